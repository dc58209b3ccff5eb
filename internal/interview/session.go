package interview

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/prepvoice/internal/channel"
	"github.com/ent0n29/prepvoice/internal/completion"
	"github.com/ent0n29/prepvoice/internal/history"
	"github.com/ent0n29/prepvoice/internal/observability"
	"github.com/ent0n29/prepvoice/internal/playback"
	"github.com/ent0n29/prepvoice/internal/report"
	"github.com/ent0n29/prepvoice/internal/turn"
)

var ErrNotStarted = errors.New("interview session not started")

type Config struct {
	SessionID     string
	Track         string
	LiveAudio     bool
	PollInterval  time.Duration
	ReportTimeout time.Duration
}

// Deps are the long-lived collaborators of a session. The session owns Channel and
// Queue and releases them on Close.
type Deps struct {
	Channel    *channel.Channel
	Queue      *playback.Queue
	Recorder   turn.Recorder
	Recognizer turn.Recognizer
	Reports    completion.Reports
	History    history.Store
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// Status is a point-in-time view of the session.
type Status struct {
	SessionID       string              `json:"session_id"`
	Track           string              `json:"track"`
	State           turn.State          `json:"state"`
	MicArmable      bool                `json:"mic_armable"`
	Channel         channel.State       `json:"channel"`
	Phase           completion.Phase    `json:"phase"`
	PlaybackPending int                 `json:"playback_pending"`
	Outcome         *completion.Outcome `json:"outcome,omitempty"`
	Message         string              `json:"message,omitempty"`
}

// Session wires one interview: channel events drive the turn controller and the
// completion orchestrator, and playback drain settles the interviewer's turn.
type Session struct {
	cfg     Config
	channel *channel.Channel
	queue   *playback.Queue
	history history.Store
	logger  *zap.Logger

	turns      *turn.Controller
	completion *completion.Orchestrator
	events     *hub

	mu      sync.Mutex
	started bool
	closed  bool
}

func New(cfg Config, deps Deps) (*Session, error) {
	cfg.SessionID = strings.TrimSpace(cfg.SessionID)
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("interview session id is required")
	}
	if deps.Channel == nil || deps.Queue == nil {
		return nil, fmt.Errorf("interview session requires a channel and a playback queue")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		cfg:     cfg,
		channel: deps.Channel,
		queue:   deps.Queue,
		history: deps.History,
		logger:  logger.With(zap.String("session_id", cfg.SessionID)),
		events:  newHub(),
	}
	s.turns = turn.NewController(turn.Config{
		SessionID: cfg.SessionID,
		Track:     cfg.Track,
		LiveAudio: cfg.LiveAudio,
	}, turn.Deps{
		Recorder:   deps.Recorder,
		Recognizer: deps.Recognizer,
		Speaker:    deps.Queue,
		Sender:     deps.Channel,
		History:    deps.History,
		Observer:   s.observeTurn,
		Logger:     logger,
		Metrics:    deps.Metrics,
	})
	s.completion = completion.New(completion.Config{
		SessionID:    cfg.SessionID,
		PollInterval: cfg.PollInterval,
		Timeout:      cfg.ReportTimeout,
	}, completion.Deps{
		Turns:   s.turns,
		Channel: deps.Channel,
		Reports: deps.Reports,
		Logger:  logger,
		Metrics: deps.Metrics,
	})

	s.queue.OnDrained(s.turns.HandlePlaybackDrained)
	s.completion.OnOutcome(s.observeOutcome)
	s.channel.OnMessage(s.turns.HandleAIResponse)
	s.channel.OnStreamStart(s.turns.HandleStreamStart)
	s.channel.OnStreamChunk(s.turns.HandleStreamChunk)
	s.channel.OnStreamEnd(s.turns.HandleStreamEnd)
	s.channel.OnCompletionStarted(s.completion.HandleCompletionStarted)
	s.channel.OnInterviewCompleted(s.completion.HandleInterviewCompleted)
	s.channel.OnDisconnect(s.observeDisconnect)
	return s, nil
}

func (s *Session) ID() string { return s.cfg.SessionID }

// Start joins the interview. It is safe to call again after a dropped connection.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return channel.ErrClosed
	}
	s.mu.Unlock()

	if err := s.channel.Connect(ctx, s.cfg.SessionID, s.cfg.Track); err != nil {
		return fmt.Errorf("join interview %s: %w", s.cfg.SessionID, err)
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.logger.Info("interview joined", zap.String("track", s.cfg.Track))
	s.events.publish(EventChannel, map[string]any{"state": channel.StateConnected})
	return nil
}

func (s *Session) StartRecording(ctx context.Context) error {
	if !s.isStarted() {
		return ErrNotStarted
	}
	return s.turns.StartRecording(ctx)
}

func (s *Session) StopRecording(ctx context.Context) (string, error) {
	if !s.isStarted() {
		return "", ErrNotStarted
	}
	return s.turns.StopRecording(ctx)
}

// EndCall asks the interviewer to finish and produce the report.
func (s *Session) EndCall() {
	s.completion.HandleEndCall()
}

func (s *Session) Outcome() (completion.Outcome, bool) {
	return s.completion.Outcome()
}

// Done is closed once the session has an outcome.
func (s *Session) Done() <-chan struct{} {
	return s.completion.Done()
}

func (s *Session) Status() Status {
	st := Status{
		SessionID:       s.cfg.SessionID,
		Track:           s.cfg.Track,
		State:           s.turns.State(),
		Channel:         s.channel.State(),
		Phase:           s.completion.Phase(),
		PlaybackPending: s.queue.Pending(),
	}
	st.MicArmable = st.State == turn.StateIdle && st.Channel == channel.StateConnected
	if out, ok := s.completion.Outcome(); ok {
		st.Outcome = &out
		st.Message = out.Message()
	}
	return st
}

// Transcript returns the most recent turns, oldest first.
func (s *Session) Transcript(ctx context.Context, limit int) ([]history.Turn, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.Transcript(ctx, s.cfg.SessionID, limit)
}

// Subscribe streams UI events until the returned cancel func is called or the
// session closes.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}

// Close tears the session down. The history store is owned by the caller.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.completion.Close()
	s.turns.End()
	s.channel.Disconnect()
	s.queue.Close()
	s.events.close()
	s.logger.Info("interview session closed")
}

func (s *Session) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

func (s *Session) observeTurn(evt turn.Event) {
	s.events.publish(EventTurn, evt)
}

func (s *Session) observeOutcome(out completion.Outcome) {
	s.events.publish(EventCompletion, outcomeView{
		Status:       out.Status,
		Message:      out.Message(),
		Reason:       out.Reason,
		Source:       out.Source,
		WasAutomatic: out.WasAutomatic,
		Report:       out.Report,
	})
}

func (s *Session) observeDisconnect(err error) {
	s.logger.Warn("interview channel lost", zap.Error(err))
	data := map[string]any{"state": channel.StateDisconnected}
	if err != nil {
		data["error"] = err.Error()
	}
	s.events.publish(EventChannel, data)
}

type outcomeView struct {
	Status       completion.Status   `json:"status"`
	Message      string              `json:"message"`
	Reason       string              `json:"reason,omitempty"`
	Source       string              `json:"source"`
	WasAutomatic bool                `json:"was_automatic"`
	Report       *report.FinalReport `json:"report,omitempty"`
}
