package interview

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// UI event types.
const (
	EventTurn       = "turn"
	EventChannel    = "channel"
	EventCompletion = "completion"
)

type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// hub fans events out to subscribers. Slow subscribers lose events rather than
// blocking the publisher.
type hub struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[string]chan Event)}
}

func (h *hub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := uuid.NewString()
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

// publish returns the number of subscribers that missed the event.
func (h *hub) publish(eventType string, data any) int {
	evt := Event{
		ID:   uuid.NewString(),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: data,
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	dropped := 0
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			dropped++
		}
	}
	return dropped
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
