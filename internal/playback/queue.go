package playback

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ent0n29/prepvoice/internal/observability"
)

type item struct {
	text  string
	audio *Audio
}

// Queue serializes playback so that at most one utterance is audible at a time.
// Enqueue appends and never pre-empts the utterance in flight.
type Queue struct {
	remote  Synthesizer
	player  Player
	local   LocalVoice
	logger  *zap.Logger
	metrics *observability.Metrics
	gate    remoteGate

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	pending   []item
	draining  bool
	gen       uint64
	inflight  context.CancelFunc
	last      chan struct{}
	onDrained func()
	closed    bool
}

// NewQueue builds a queue. remote may be nil, in which case every text item is spoken
// by local.
func NewQueue(remote Synthesizer, player Player, local LocalVoice, logger *zap.Logger, metrics *observability.Metrics) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		remote:  remote,
		player:  player,
		local:   local,
		logger:  logger,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnDrained registers the end-of-playback signal, replacing any previous one.
func (q *Queue) OnDrained(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	replaced := q.onDrained != nil
	q.onDrained = fn
	return replaced
}

// Enqueue appends text to be synthesized and played.
func (q *Queue) Enqueue(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	q.push(item{text: text})
}

// EnqueueAudio appends audio supplied by the server. text is spoken locally if the
// audio cannot be played.
func (q *Queue) EnqueueAudio(audio Audio, text string) {
	if len(audio.Data) == 0 {
		q.Enqueue(text)
		return
	}
	q.push(item{text: text, audio: &audio})
}

func (q *Queue) push(it item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, it)
	if q.draining {
		return
	}
	q.draining = true
	prev := q.last
	done := make(chan struct{})
	q.last = done
	go q.drain(q.gen, prev, done)
}

// Stop clears the queue, halts the utterance in flight and fires the drained signal.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.gen++
	q.pending = nil
	q.draining = false
	if q.inflight != nil {
		q.inflight()
		q.inflight = nil
	}
	fn := q.onDrained
	q.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Busy reports whether anything is playing or waiting to play.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining || len(q.pending) > 0
}

func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops playback for good; later enqueues are ignored and no signal fires.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.onDrained = nil
	q.mu.Unlock()
	q.Stop()
	q.cancel()
}

func (q *Queue) drain(gen uint64, prev <-chan struct{}, done chan struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}
	for {
		q.mu.Lock()
		if q.gen != gen {
			q.mu.Unlock()
			return
		}
		if len(q.pending) == 0 {
			q.draining = false
			fn := q.onDrained
			q.mu.Unlock()
			if fn != nil {
				fn()
			}
			return
		}
		it := q.pending[0]
		q.pending = q.pending[1:]
		ctx, cancel := context.WithCancel(q.ctx)
		q.inflight = cancel
		q.mu.Unlock()

		q.play(ctx, it)

		q.mu.Lock()
		if q.gen == gen {
			q.inflight = nil
		}
		q.mu.Unlock()
		cancel()
	}
}

func (q *Queue) play(ctx context.Context, it item) {
	if it.audio != nil && q.player != nil {
		err := q.player.Play(ctx, *it.audio)
		if err == nil {
			q.metrics.ObservePlayback("server")
			return
		}
		if ctx.Err() != nil {
			return
		}
		q.logger.Warn("server audio playback failed, using local voice", zap.Error(err))
	} else if q.remote != nil && q.player != nil && q.gate.allow() {
		err := q.playRemote(ctx, it.text)
		if err == nil {
			q.metrics.ObservePlayback("remote")
			return
		}
		if ctx.Err() != nil {
			return
		}
		q.gate.observe(err)
		q.logger.Warn("remote synthesis failed, using local voice", zap.Error(err))
	}
	q.speakLocal(ctx, it.text)
}

func (q *Queue) playRemote(ctx context.Context, text string) error {
	audio, err := q.remote.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if len(audio.Data) == 0 {
		return &SynthesisError{Err: ErrEmptyAudio}
	}
	return q.player.Play(ctx, audio)
}

func (q *Queue) speakLocal(ctx context.Context, text string) {
	if q.local == nil || strings.TrimSpace(text) == "" {
		q.metrics.ObservePlayback("skipped")
		return
	}
	if err := q.local.Speak(ctx, text); err != nil {
		if ctx.Err() == nil {
			q.logger.Error("local voice failed", zap.Error(err))
			q.metrics.ObservePlayback("failed")
		}
		return
	}
	q.metrics.ObservePlayback("local")
}
