package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists interview transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS interview_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			track TEXT NOT NULL DEFAULT '',
			played BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interview_turns_session_created ON interview_turns (session_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, turn Turn) error {
	if turn.SessionID == "" {
		return errors.New("turn session id is required")
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO interview_turns (id, session_id, speaker, text, track, played, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		turn.ID,
		turn.SessionID,
		turn.Speaker,
		turn.Text,
		turn.Track,
		turn.Played,
		turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) Transcript(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT id, session_id, speaker, text, track, played, created_at
			 FROM interview_turns WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
			sessionID, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, session_id, speaker, text, track, played, created_at
			 FROM interview_turns WHERE session_id=$1 ORDER BY created_at DESC`,
			sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}

	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Turn, error) {
		var t Turn
		err := row.Scan(&t.ID, &t.SessionID, &t.Speaker, &t.Text, &t.Track, &t.Played, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
