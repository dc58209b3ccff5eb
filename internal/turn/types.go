package turn

import (
	"context"
	"errors"

	"github.com/ent0n29/prepvoice/internal/audio"
	"github.com/ent0n29/prepvoice/internal/playback"
)

// State is the conversational state. Exactly one holds at a time and it alone decides
// whether the microphone may be armed.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateAIThinking State = "ai_thinking"
	StateAISpeaking State = "ai_speaking"
	StateEnded      State = "ended"
)

var (
	ErrMicLocked         = errors.New("microphone locked: interviewer has the turn")
	ErrEnded             = errors.New("interview has ended")
	ErrNotRecording      = errors.New("not recording")
	ErrNoSpeech          = errors.New("no speech recognized")
	ErrTranscriptNotSent = errors.New("transcript not delivered: channel unavailable")
)

// Recorder owns the microphone.
type Recorder interface {
	Start(ctx context.Context, tap audio.FrameTap) error
	Stop() (audio.EncodedBuffer, error)
	Abort()
}

type Recognizer interface {
	Recognize(ctx context.Context, buf audio.EncodedBuffer) (string, error)
}

// Speaker owns audio output.
type Speaker interface {
	Enqueue(text string)
	EnqueueAudio(a playback.Audio, text string)
	Stop()
	Busy() bool
}

// Sender delivers candidate events to the interviewer. Each call reports delivery.
type Sender interface {
	SendTranscript(text string) bool
	SendUserStartedSpeaking() bool
	SendAudioChunk(pcm []byte) bool
}

// Event kinds delivered to an Observer.
const (
	EventState             = "state"
	EventUserTranscript    = "user_transcript"
	EventAIText            = "ai_text"
	EventRecognitionFailed = "recognition_failed"
	EventMicError          = "mic_error"
)

type Event struct {
	Kind   string `json:"kind"`
	From   State  `json:"from,omitempty"`
	To     State  `json:"to,omitempty"`
	Text   string `json:"text,omitempty"`
	Muted  bool   `json:"muted,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Observer receives controller events outside the controller lock.
type Observer func(Event)
