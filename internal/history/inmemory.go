package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{turns: make(map[string][]Turn)}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, turn Turn) error {
	if turn.SessionID == "" {
		return errors.New("turn session id is required")
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)
	return nil
}

// Transcript returns the most recent limit turns in chronological order; limit <= 0 returns all.
func (s *InMemoryStore) Transcript(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	return append([]Turn(nil), arr[len(arr)-limit:]...), nil
}

func (s *InMemoryStore) Close() error { return nil }
