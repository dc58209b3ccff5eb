package playback

import (
	"context"
	"errors"
	"fmt"
)

// Audio formats understood by the players.
const (
	FormatWAV     = "wav"
	FormatMP3     = "mp3"
	FormatPCM16LE = "pcm16le"
	FormatUnknown = ""
)

// Audio is one synthesized utterance ready for output.
type Audio struct {
	Data       []byte
	Format     string
	SampleRate int
}

// Synthesizer turns text into audio; typically a remote service.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Player plays one utterance to completion or until ctx is cancelled.
type Player interface {
	Play(ctx context.Context, audio Audio) error
}

// LocalVoice speaks text through an always-available local mechanism.
type LocalVoice interface {
	Speak(ctx context.Context, text string) error
}

var (
	ErrUnauthorized = errors.New("speech synthesis unauthorized")
	ErrEmptyAudio   = errors.New("speech synthesis returned empty audio")
	ErrUnavailable  = errors.New("speech synthesis unavailable")
)

// SynthesisError describes a failed remote synthesis call.
type SynthesisError struct {
	StatusCode int
	Err        error
}

func (e *SynthesisError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("speech synthesis HTTP %d: %v", e.StatusCode, e.Err)
	}
	return "speech synthesis: " + e.Err.Error()
}

func (e *SynthesisError) Unwrap() error { return e.Err }
