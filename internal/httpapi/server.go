package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ent0n29/prepvoice/internal/audio"
	"github.com/ent0n29/prepvoice/internal/channel"
	"github.com/ent0n29/prepvoice/internal/completion"
	"github.com/ent0n29/prepvoice/internal/config"
	"github.com/ent0n29/prepvoice/internal/history"
	"github.com/ent0n29/prepvoice/internal/interview"
	"github.com/ent0n29/prepvoice/internal/observability"
	"github.com/ent0n29/prepvoice/internal/report"
	"github.com/ent0n29/prepvoice/internal/turn"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = (eventsPongWait * 9) / 10
	recordTimeout    = 30 * time.Second
)

// Interview is the session the control API drives.
type Interview interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (string, error)
	EndCall()
	Status() interview.Status
	Outcome() (completion.Outcome, bool)
	Transcript(ctx context.Context, limit int) ([]history.Turn, error)
	Subscribe(buffer int) (<-chan interview.Event, func())
}

type Server struct {
	cfg       config.Config
	interview Interview
	metrics   *observability.Metrics
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

func New(cfg config.Config, iv Interview, metrics *observability.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		interview: iv,
		metrics:   metrics,
		gatherer:  gatherer,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only the local UI may follow the session unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", observability.MetricsHandler(s.gatherer))
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/interview", func(r chi.Router) {
		r.Post("/record/start", s.handleRecordStart)
		r.Post("/record/stop", s.handleRecordStop)
		r.Post("/end", s.handleEnd)
		r.Get("/status", s.handleStatus)
		r.Get("/report", s.handleReport)
		r.Get("/transcript", s.handleTranscript)
		r.Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	st := s.interview.Status()
	if st.Channel != channel.StateConnected {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "not_ready",
			"channel": st.Channel,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"channel": st.Channel,
	})
}

func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), recordTimeout)
	defer cancel()
	if err := s.interview.StartRecording(ctx); err != nil {
		s.respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.interview.Status())
}

func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), recordTimeout)
	defer cancel()
	text, err := s.interview.StopRecording(ctx)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"text":   text,
		"status": s.interview.Status(),
	})
}

func (s *Server) handleEnd(w http.ResponseWriter, _ *http.Request) {
	s.interview.EndCall()
	respondJSON(w, http.StatusAccepted, s.interview.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.interview.Status())
}

type reportResponse struct {
	Status  completion.Status   `json:"status"`
	Message string              `json:"message"`
	Reason  string              `json:"reason,omitempty"`
	Source  string              `json:"source"`
	Report  *report.FinalReport `json:"report,omitempty"`
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	out, ok := s.interview.Outcome()
	if !ok {
		respondJSON(w, http.StatusAccepted, map[string]any{
			"phase": s.interview.Status().Phase,
		})
		return
	}
	respondJSON(w, http.StatusOK, reportResponse{
		Status:  out.Status,
		Message: out.Message(),
		Reason:  out.Reason,
		Source:  out.Source,
		Report:  out.Report,
	})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	turns, err := s.interview.Transcript(r.Context(), limit)
	if err != nil {
		s.logger.Warn("transcript read failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "transcript_unavailable", err.Error())
		return
	}
	if turns == nil {
		turns = []history.Turn{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

// handleEvents streams session events to a UI over a websocket.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := s.interview.Subscribe(256)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The UI sends nothing; reading only processes control frames and notices the close.
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.writeEvent(conn, interview.Event{
		Type: "status",
		At:   time.Now().UTC(),
		Data: s.interview.Status(),
	}); err != nil {
		return
	}

	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(eventsWriteWait))
				return
			}
			if err := s.writeEvent(conn, evt); err != nil {
				s.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, evt interview.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
	return conn.WriteJSON(evt)
}

func (s *Server) respondTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interview.ErrNotStarted):
		respondError(w, http.StatusServiceUnavailable, "not_started", err.Error())
	case errors.Is(err, turn.ErrMicLocked):
		respondError(w, http.StatusConflict, "mic_locked", err.Error())
	case errors.Is(err, turn.ErrEnded):
		respondError(w, http.StatusConflict, "interview_ended", err.Error())
	case errors.Is(err, turn.ErrNotRecording):
		respondError(w, http.StatusConflict, "not_recording", err.Error())
	case errors.Is(err, turn.ErrNoSpeech):
		respondError(w, http.StatusUnprocessableEntity, "no_speech", err.Error())
	case errors.Is(err, turn.ErrTranscriptNotSent):
		respondError(w, http.StatusBadGateway, "channel_unavailable", err.Error())
	case errors.Is(err, audio.ErrPermissionDenied):
		respondError(w, http.StatusForbidden, "mic_permission_denied", err.Error())
	case errors.Is(err, audio.ErrNoDevice):
		respondError(w, http.StatusServiceUnavailable, "mic_unavailable", err.Error())
	default:
		s.logger.Warn("turn request failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "turn_failed", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
