package completion

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/prepvoice/internal/observability"
	"github.com/ent0n29/prepvoice/internal/protocol"
	"github.com/ent0n29/prepvoice/internal/report"
)

// Phase of the session end.
type Phase string

const (
	PhaseActive        Phase = "active"
	PhaseEndRequested  Phase = "end_requested"
	PhaseReportPending Phase = "report_pending"
	PhaseResolved      Phase = "resolved"
)

type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
)

// Where a resolution came from.
const (
	SourcePush    = "push"
	SourcePoll    = "poll"
	SourceTimeout = "timeout"
)

const InterruptedMessage = "Your interview was interrupted. Your progress is saved, and you can continue later."

const (
	defaultPollInterval = 3 * time.Second
	defaultTimeout      = 90 * time.Second
	notesTimeout        = 10 * time.Second
)

type Outcome struct {
	Status       Status              `json:"status"`
	Report       *report.FinalReport `json:"report,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	WasAutomatic bool                `json:"was_automatic"`
	Source       string              `json:"source"`
	ResolvedAt   time.Time           `json:"resolved_at"`
}

// Message is the text shown to the candidate.
func (o Outcome) Message() string {
	if o.Status == StatusCompleted {
		return "Your interview is complete. Your report is ready."
	}
	return InterruptedMessage
}

// Turns is the part of the turn controller the orchestrator drives.
type Turns interface {
	End()
}

type Channel interface {
	SendCompleteInterview() bool
}

// Reports is the sessions API.
type Reports interface {
	Fetch(ctx context.Context, sessionID string) (*report.FinalReport, error)
	Complete(ctx context.Context, sessionID string) error
	SaveNotes(ctx context.Context, sessionID, notes string) error
}

type Config struct {
	SessionID    string
	PollInterval time.Duration
	Timeout      time.Duration
}

type Deps struct {
	Turns   Turns
	Channel Channel
	Reports Reports
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Orchestrator resolves exactly one final report per session. Push, poll and the
// deadline race; acceptance is keyed on whether a report is already set.
type Orchestrator struct {
	cfg     Config
	turns   Turns
	channel Channel
	reports Reports
	logger  *zap.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	phase       Phase
	report      *report.FinalReport
	outcome     *Outcome
	polling     bool
	closed      bool
	stopPolling context.CancelFunc
	deadline    *time.Timer
	endAt       time.Time
	done        chan struct{}
	onOutcome   func(Outcome)
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:     cfg,
		turns:   deps.Turns,
		channel: deps.Channel,
		reports: deps.Reports,
		logger:  logger.With(zap.String("session_id", cfg.SessionID)),
		metrics: deps.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		phase:   PhaseActive,
		done:    make(chan struct{}),
	}
}

func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Outcome returns the resolution, if any.
func (o *Orchestrator) Outcome() (Outcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcome == nil {
		return Outcome{}, false
	}
	return *o.outcome, true
}

// Done is closed on the first resolution.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// OnOutcome registers the resolution callback, replacing any previous one. It fires on
// the first resolution and again if an interrupted outcome is upgraded by a late report.
func (o *Orchestrator) OnOutcome(fn func(Outcome)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	replaced := o.onOutcome != nil
	o.onOutcome = fn
	return replaced
}

// HandleEndCall ends the interview. Only the first call has any effect.
func (o *Orchestrator) HandleEndCall() {
	o.mu.Lock()
	if o.phase != PhaseActive {
		o.mu.Unlock()
		return
	}
	o.phase = PhaseEndRequested
	o.endAt = time.Now()
	o.mu.Unlock()
	o.logger.Info("interview end requested")

	if o.turns != nil {
		o.turns.End()
	}
	if o.channel == nil || !o.channel.SendCompleteInterview() {
		o.logger.Warn("complete-interview not delivered over channel, completing over HTTP")
		o.goBackground(o.completeOverHTTP)
	}

	o.mu.Lock()
	if o.phase == PhaseEndRequested {
		o.phase = PhaseReportPending
	}
	o.mu.Unlock()
	o.awaitReport()
}

// HandleCompletionStarted records that the server began producing the report and
// starts the poll fallback in case the push never arrives.
func (o *Orchestrator) HandleCompletionStarted() {
	o.mu.Lock()
	if o.phase == PhaseResolved {
		o.mu.Unlock()
		return
	}
	o.phase = PhaseReportPending
	if o.endAt.IsZero() {
		o.endAt = time.Now()
	}
	o.mu.Unlock()
	o.logger.Info("interview completion started")
	o.awaitReport()
}

// HandleInterviewCompleted handles the authoritative push. A missing or structurally
// invalid report resolves the session as interrupted.
func (o *Orchestrator) HandleInterviewCompleted(evt protocol.InterviewCompleted) {
	r, err := report.Decode(evt.FinalReport)
	switch {
	case err == nil && r != nil:
		o.accept(r, SourcePush, evt.CompletionReason, evt.WasAutomatic)
	case err != nil:
		o.logger.Warn("interview completed with invalid report", zap.Error(err))
		o.interrupt(SourcePush, "invalid report: "+err.Error(), evt.WasAutomatic)
	default:
		o.interrupt(SourcePush, "interview completed without a report", evt.WasAutomatic)
	}
}

// Close stops polling and the deadline and waits for background work.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	if o.deadline != nil {
		o.deadline.Stop()
	}
	o.onOutcome = nil
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) awaitReport() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase == PhaseResolved || o.polling || o.closed {
		return
	}
	o.polling = true
	ctx, cancel := context.WithCancel(o.ctx)
	o.stopPolling = cancel
	o.deadline = time.AfterFunc(o.cfg.Timeout, func() {
		o.interrupt(SourceTimeout, "no valid report before the deadline", false)
	})
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()
}

func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
		if o.reports == nil {
			continue
		}
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.PollInterval)
		r, err := o.reports.Fetch(attemptCtx, o.cfg.SessionID)
		cancel()
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, report.ErrInvalidReport):
			o.metrics.ObserveReportPoll("invalid")
		case err != nil:
			o.metrics.ObserveReportPoll("error")
			o.logger.Debug("report poll failed", zap.Error(err))
		case r == nil:
			o.metrics.ObserveReportPoll("pending")
		default:
			o.metrics.ObserveReportPoll("ready")
			o.accept(r, SourcePoll, "", false)
			return
		}
	}
}

// accept stores r unless a report is already set. An interrupted outcome is upgraded.
func (o *Orchestrator) accept(r *report.FinalReport, source, reason string, automatic bool) bool {
	o.mu.Lock()
	if o.report != nil {
		o.mu.Unlock()
		o.logger.Debug("duplicate report discarded", zap.String("source", source))
		return false
	}
	upgraded := o.outcome != nil
	o.report = r
	out := Outcome{
		Status:       StatusCompleted,
		Report:       r,
		Reason:       reason,
		WasAutomatic: automatic,
		Source:       source,
		ResolvedAt:   time.Now(),
	}
	fn := o.resolveLocked(out)
	endAt := o.endAt
	o.mu.Unlock()
	o.endTurns()

	if upgraded {
		o.logger.Info("interrupted interview upgraded by late report", zap.String("source", source))
	} else {
		o.logger.Info("interview report accepted", zap.String("source", source))
	}
	if !endAt.IsZero() {
		o.metrics.ObserveStage(observability.StageReport, out.ResolvedAt.Sub(endAt))
	}
	o.metrics.ObserveCompletion(string(StatusCompleted), source)
	if fn != nil {
		fn(out)
	}
	return true
}

// interrupt resolves the session without a report unless it is already resolved.
func (o *Orchestrator) interrupt(source, reason string, automatic bool) {
	o.mu.Lock()
	if o.phase == PhaseResolved {
		o.mu.Unlock()
		return
	}
	out := Outcome{
		Status:       StatusInterrupted,
		Reason:       reason,
		WasAutomatic: automatic,
		Source:       source,
		ResolvedAt:   time.Now(),
	}
	fn := o.resolveLocked(out)
	o.mu.Unlock()
	o.endTurns()

	o.logger.Warn("interview interrupted", zap.String("source", source), zap.String("reason", reason))
	o.metrics.ObserveCompletion(string(StatusInterrupted), source)
	o.goBackground(func(ctx context.Context) { o.saveProgressNote(ctx, reason) })
	if fn != nil {
		fn(out)
	}
}

func (o *Orchestrator) resolveLocked(out Outcome) func(Outcome) {
	first := o.outcome == nil
	o.outcome = &out
	o.phase = PhaseResolved
	if o.stopPolling != nil {
		o.stopPolling()
	}
	if o.deadline != nil {
		o.deadline.Stop()
	}
	if first {
		close(o.done)
	}
	return o.onOutcome
}

// endTurns moves the turn controller to Ended; resolution from any source ends the session.
func (o *Orchestrator) endTurns() {
	if o.turns != nil {
		o.turns.End()
	}
}

func (o *Orchestrator) completeOverHTTP(ctx context.Context) {
	if o.reports == nil {
		return
	}
	if err := o.reports.Complete(ctx, o.cfg.SessionID); err != nil {
		o.logger.Warn("HTTP completion failed", zap.Error(err))
	}
}

func (o *Orchestrator) saveProgressNote(ctx context.Context, reason string) {
	if o.reports == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, notesTimeout)
	defer cancel()
	if err := o.reports.SaveNotes(ctx, o.cfg.SessionID, "Interview interrupted: "+reason); err != nil {
		o.logger.Warn("progress note not saved", zap.Error(err))
	}
}

func (o *Orchestrator) goBackground(fn func(ctx context.Context)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(o.ctx)
	}()
}
