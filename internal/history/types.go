package history

import (
	"context"
	"time"
)

// Speakers of a transcript turn.
const (
	SpeakerCandidate   = "candidate"
	SpeakerInterviewer = "interviewer"
)

// Turn is one transcript line of an interview session.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Track     string    `json:"track,omitempty"`
	Played    bool      `json:"played"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists the interview transcript.
type Store interface {
	SaveTurn(ctx context.Context, turn Turn) error
	Transcript(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	Close() error
}
