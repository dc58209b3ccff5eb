package turn

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/prepvoice/internal/history"
	"github.com/ent0n29/prepvoice/internal/observability"
	"github.com/ent0n29/prepvoice/internal/playback"
	"github.com/ent0n29/prepvoice/internal/protocol"
	"github.com/ent0n29/prepvoice/internal/recognition"
)

const historyWriteTimeout = 2 * time.Second

type Config struct {
	SessionID string
	Track     string
	// LiveAudio streams every captured frame as an audio-chunk while recording.
	LiveAudio bool
}

type Deps struct {
	Recorder   Recorder
	Recognizer Recognizer
	Speaker    Speaker
	Sender     Sender
	History    history.Store
	Observer   Observer
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// Controller arbitrates who may talk. AISpeaking only returns to Idle once the AI
// stream has ended and the speaker has drained.
type Controller struct {
	cfg        Config
	recorder   Recorder
	recognizer Recognizer
	speaker    Speaker
	sender     Sender
	history    history.Store
	observer   Observer
	logger     *zap.Logger
	metrics    *observability.Metrics

	mu         sync.Mutex
	state      State
	turnID     uint64
	streamOpen bool
	aiMuted    bool
	aiText     strings.Builder
	stoppedAt  time.Time
	sentAt     time.Time
	aiStartAt  time.Time
}

func NewController(cfg Config, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:        cfg,
		recorder:   deps.Recorder,
		recognizer: deps.Recognizer,
		speaker:    deps.Speaker,
		sender:     deps.Sender,
		history:    deps.History,
		observer:   deps.Observer,
		logger:     logger.With(zap.String("session_id", cfg.SessionID)),
		metrics:    deps.Metrics,
		state:      StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CanArmMic reports whether the candidate may start speaking.
func (c *Controller) CanArmMic() bool {
	return c.State() == StateIdle
}

// StartRecording arms the microphone. Only allowed from Idle.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
	case StateEnded:
		c.mu.Unlock()
		return ErrEnded
	default:
		c.mu.Unlock()
		return ErrMicLocked
	}
	c.turnID++
	token := c.turnID
	events := c.transitionLocked(StateRecording)
	c.mu.Unlock()
	c.emit(events...)

	var tap func([]byte)
	if c.cfg.LiveAudio {
		tap = func(pcm []byte) { c.sender.SendAudioChunk(pcm) }
	}
	if err := c.recorder.Start(ctx, tap); err != nil {
		c.logger.Warn("microphone start failed", zap.Error(err))
		c.returnToIdle(token, StateRecording, EventMicError, err.Error())
		return fmt.Errorf("start recording: %w", err)
	}

	c.mu.Lock()
	stillOurs := c.state == StateRecording && c.turnID == token
	c.mu.Unlock()
	if !stillOurs {
		c.recorder.Abort()
		return ErrEnded
	}
	if !c.sender.SendUserStartedSpeaking() {
		c.logger.Debug("user-started-speaking not delivered")
	}
	return nil
}

// StopRecording releases the microphone, recognizes the utterance and sends the
// transcript. Any failure returns the controller to Idle.
func (c *Controller) StopRecording(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.state != StateRecording {
		state := c.state
		c.mu.Unlock()
		if state == StateEnded {
			return "", ErrEnded
		}
		return "", ErrNotRecording
	}
	token := c.turnID
	c.stoppedAt = time.Now()
	events := c.transitionLocked(StateAIThinking)
	c.mu.Unlock()
	c.emit(events...)

	buf, err := c.recorder.Stop()
	if err != nil {
		c.logger.Warn("microphone stop failed", zap.Error(err))
		c.returnToIdle(token, StateAIThinking, EventMicError, err.Error())
		return "", fmt.Errorf("stop recording: %w", err)
	}
	c.metrics.ObserveUtterance(buf.Duration())

	text, err := c.recognizer.Recognize(ctx, buf)
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = ErrNoSpeech
	}
	if err != nil {
		if errors.Is(err, recognition.ErrEmptyTranscript) {
			err = ErrNoSpeech
		}
		c.logger.Info("recognition produced no transcript", zap.Error(err))
		c.returnToIdle(token, StateAIThinking, EventRecognitionFailed, err.Error())
		return "", err
	}

	c.mu.Lock()
	stillOurs := c.state == StateAIThinking && c.turnID == token
	c.mu.Unlock()
	if !stillOurs {
		return text, ErrEnded
	}

	if !c.sender.SendTranscript(text) {
		c.returnToIdle(token, StateAIThinking, EventRecognitionFailed, ErrTranscriptNotSent.Error())
		return text, ErrTranscriptNotSent
	}
	c.mu.Lock()
	c.sentAt = time.Now()
	c.metrics.ObserveStage(observability.StageRecognition, c.sentAt.Sub(c.stoppedAt))
	c.mu.Unlock()
	c.saveTurn(history.Turn{Speaker: history.SpeakerCandidate, Text: text, Played: true})
	c.emit(Event{Kind: EventUserTranscript, Text: text})
	return text, nil
}

// HandleStreamStart opens a streamed AI turn.
func (c *Controller) HandleStreamStart() {
	c.mu.Lock()
	events := c.openStreamLocked()
	c.mu.Unlock()
	c.emit(events...)
}

// HandleStreamChunk appends one fragment of the AI reply and queues it for playback.
func (c *Controller) HandleStreamChunk(text string) {
	c.mu.Lock()
	var events []Event
	if !c.streamOpen {
		events = c.openStreamLocked()
	}
	c.aiText.WriteString(text)
	muted := c.aiMuted
	c.mu.Unlock()
	c.emit(events...)

	if !muted {
		c.speaker.Enqueue(text)
	}
	c.emit(Event{Kind: EventAIText, Text: text, Muted: muted})
}

// HandleStreamEnd closes the streamed AI turn. The controller stays in AISpeaking
// until the speaker drains.
func (c *Controller) HandleStreamEnd() {
	c.mu.Lock()
	if !c.streamOpen {
		c.mu.Unlock()
		return
	}
	c.streamOpen = false
	text := c.aiText.String()
	muted := c.aiMuted
	c.aiText.Reset()
	c.mu.Unlock()

	c.saveTurn(history.Turn{Speaker: history.SpeakerInterviewer, Text: text, Played: !muted})
	c.settle()
}

// HandleAIResponse plays one complete, non-streamed AI turn.
func (c *Controller) HandleAIResponse(resp protocol.AIResponse) {
	c.mu.Lock()
	events, muted := c.beginAITurnLocked()
	c.mu.Unlock()
	c.emit(events...)

	c.saveTurn(history.Turn{Speaker: history.SpeakerInterviewer, Text: resp.Text, Played: !muted})
	c.emit(Event{Kind: EventAIText, Text: resp.Text, Muted: muted})
	if muted {
		return
	}

	if resp.Audio != "" {
		data, err := base64.StdEncoding.DecodeString(resp.Audio)
		if err == nil {
			c.speaker.EnqueueAudio(playback.Audio{Data: data}, resp.Text)
		} else {
			c.logger.Warn("undecodable AI audio, speaking text instead", zap.Error(err))
			c.speaker.Enqueue(resp.Text)
		}
	} else {
		c.speaker.Enqueue(resp.Text)
	}
	c.settle()
}

// HandlePlaybackDrained is the speaker's end-of-playback signal.
func (c *Controller) HandlePlaybackDrained() {
	c.settle()
}

// End moves to the terminal state, releasing the microphone and silencing playback.
func (c *Controller) End() {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	c.turnID++
	c.streamOpen = false
	c.aiText.Reset()
	events := c.transitionLocked(StateEnded)
	c.mu.Unlock()
	c.emit(events...)

	c.recorder.Abort()
	c.speaker.Stop()
}

// settle returns AISpeaking to Idle once no stream is open and nothing is playing.
// The speaker is queried under the controller lock; it never calls back while holding
// its own lock.
func (c *Controller) settle() {
	c.mu.Lock()
	if c.state != StateAISpeaking || c.streamOpen || c.speaker.Busy() {
		c.mu.Unlock()
		return
	}
	if !c.aiStartAt.IsZero() {
		c.metrics.ObserveStage(observability.StageAISpeech, time.Since(c.aiStartAt))
		c.aiStartAt = time.Time{}
	}
	events := c.transitionLocked(StateIdle)
	c.mu.Unlock()
	c.emit(events...)
}

func (c *Controller) openStreamLocked() []Event {
	events, muted := c.beginAITurnLocked()
	c.streamOpen = true
	c.aiMuted = muted
	c.aiText.Reset()
	return events
}

// beginAITurnLocked enters AISpeaking for a new AI turn. While the candidate is
// recording or after the interview ended the turn is muted: kept in the transcript
// but not played.
func (c *Controller) beginAITurnLocked() ([]Event, bool) {
	switch c.state {
	case StateRecording, StateEnded:
		return nil, true
	case StateAISpeaking:
		return nil, false
	}
	if c.state == StateAIThinking && !c.sentAt.IsZero() {
		c.metrics.ObserveStage(observability.StageFirstResponse, time.Since(c.sentAt))
		c.sentAt = time.Time{}
	}
	c.aiStartAt = time.Now()
	return c.transitionLocked(StateAISpeaking), false
}

func (c *Controller) returnToIdle(token uint64, from State, kind, reason string) {
	c.mu.Lock()
	if c.state != from || c.turnID != token {
		c.mu.Unlock()
		return
	}
	events := c.transitionLocked(StateIdle)
	c.mu.Unlock()
	c.emit(append(events, Event{Kind: kind, Reason: reason})...)
}

func (c *Controller) transitionLocked(to State) []Event {
	from := c.state
	if from == to {
		return nil
	}
	c.state = to
	c.metrics.ObserveTransition(string(from), string(to))
	c.logger.Debug("turn state", zap.String("from", string(from)), zap.String("to", string(to)))
	return []Event{{Kind: EventState, From: from, To: to}}
}

func (c *Controller) emit(events ...Event) {
	if c.observer == nil {
		return
	}
	for _, e := range events {
		c.observer(e)
	}
}

func (c *Controller) saveTurn(t history.Turn) {
	if c.history == nil || strings.TrimSpace(t.Text) == "" {
		return
	}
	t.SessionID = c.cfg.SessionID
	t.Track = c.cfg.Track
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := c.history.SaveTurn(ctx, t); err != nil {
		c.logger.Warn("transcript turn not saved", zap.Error(err))
	}
}
