package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/prepvoice/internal/protocol"
)

type sessionState struct {
	answers     int
	completedAt time.Time
	notes       []string
}

type mockServer struct {
	opts     options
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*sessionState
}

func newMockServer(opts options, logger *zap.Logger) *mockServer {
	return &mockServer{
		opts:     opts,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sessions: make(map[string]*sessionState),
	}
}

func (s *mockServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/interview", s.handleChannel)
	r.Route("/api/sessions/{id}", func(r chi.Router) {
		r.Get("/report", s.handleReport)
		r.Put("/complete", s.handleComplete)
		r.Post("/notes", s.handleNotes)
	})
	return r
}

func (s *mockServer) session(id string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		st = &sessionState{}
		s.sessions[id] = st
	}
	return st
}

// complete marks the session as finished and reports whether this call did so.
func (s *mockServer) complete(id string) bool {
	st := s.session(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !st.completedAt.IsZero() {
		return false
	}
	st.completedAt = time.Now()
	return true
}

// reportFor returns the final report once the configured delay has passed.
func (s *mockServer) reportFor(id string) (json.RawMessage, bool) {
	st := s.session(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.completedAt.IsZero() || time.Since(st.completedAt) < s.opts.reportDelay {
		return nil, false
	}
	score := 5 + st.answers
	if score > 10 {
		score = 10
	}
	raw, _ := json.Marshal(map[string]any{
		"overallAssessment": map[string]any{
			"score":   score,
			"summary": "Clear structure; quantify impact more often.",
		},
		"answers": st.answers,
	})
	return raw, true
}

// connWriter serializes writes from the read loop and delayed completion pushes.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) send(event protocol.EventName, payload any) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *mockServer) handleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	out := &connWriter{conn: conn}

	var sessionID string
	asked := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = out.send(protocol.EventError, protocol.ErrorEvent{Message: "invalid envelope", Code: "bad_request"})
			continue
		}
		s.logger.Debug("channel event", zap.String("event", string(env.Event)))

		switch env.Event {
		case protocol.EventJoin:
			var join protocol.Join
			if err := json.Unmarshal(env.Data, &join); err != nil || strings.TrimSpace(join.SessionID) == "" {
				_ = out.send(protocol.EventError, protocol.ErrorEvent{Message: "join requires sessionId", Code: "bad_join"})
				continue
			}
			sessionID = join.SessionID
			s.session(sessionID)
			s.logger.Info("candidate joined", zap.String("session_id", sessionID), zap.String("track", join.Track))
			if err := out.send(protocol.EventJoined, protocol.Joined{SessionID: sessionID}); err != nil {
				return
			}
			if err := out.send(protocol.EventAIResponse, protocol.AIResponse{
				Text:      s.opts.questions[0],
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
			asked = 1
		case protocol.EventUserTranscript:
			if sessionID == "" {
				continue
			}
			st := s.session(sessionID)
			s.mu.Lock()
			st.answers++
			s.mu.Unlock()
			if asked >= len(s.opts.questions) {
				s.finish(out, sessionID, true)
				continue
			}
			if err := s.streamQuestion(out, s.opts.questions[asked]); err != nil {
				return
			}
			asked++
		case protocol.EventCompleteInterview:
			if sessionID == "" {
				continue
			}
			s.finish(out, sessionID, false)
		case protocol.EventAudioChunk, protocol.EventUserStartedSpeaking:
		default:
			s.logger.Warn("unknown channel event", zap.String("event", string(env.Event)))
		}
	}
}

func (s *mockServer) streamQuestion(out *connWriter, question string) error {
	if err := out.send(protocol.EventStreamStart, protocol.StreamStart{}); err != nil {
		return err
	}
	for _, chunk := range chunkWords(question, s.opts.chunkWords) {
		if err := out.send(protocol.EventStreamChunk, protocol.StreamChunk{Text: chunk}); err != nil {
			return err
		}
	}
	return out.send(protocol.EventStreamEnd, protocol.StreamEnd{})
}

// finish starts report generation and, when pushing, delivers the report after the delay.
func (s *mockServer) finish(out *connWriter, sessionID string, automatic bool) {
	if !s.complete(sessionID) {
		return
	}
	_ = out.send(protocol.EventCompletionStarted, protocol.CompletionStarted{})
	if !s.opts.push {
		return
	}
	reason := "candidate_ended"
	if automatic {
		reason = "questions_exhausted"
	}
	time.AfterFunc(s.opts.reportDelay, func() {
		raw, ok := s.reportFor(sessionID)
		if !ok {
			return
		}
		if err := out.send(protocol.EventInterviewCompleted, protocol.InterviewCompleted{
			SessionID:        sessionID,
			FinalReport:      raw,
			CompletionReason: reason,
			WasAutomatic:     automatic,
		}); err != nil {
			s.logger.Debug("report push failed", zap.Error(err))
		}
	})
}

func (s *mockServer) handleReport(w http.ResponseWriter, r *http.Request) {
	raw, ok := s.reportFor(chi.URLParam(r, "id"))
	if !ok {
		respondJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "report": raw})
}

func (s *mockServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.complete(id)
	s.logger.Info("session completed over HTTP", zap.String("session_id", id))
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *mockServer) handleNotes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	st := s.session(id)
	s.mu.Lock()
	st.notes = append(st.notes, body.Notes)
	s.mu.Unlock()
	s.logger.Info("progress note saved", zap.String("session_id", id), zap.String("notes", body.Notes))
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func chunkWords(text string, size int) []string {
	words := strings.Fields(text)
	var chunks []string
	for i := 0; i < len(words); i += size {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
