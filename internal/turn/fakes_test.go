package turn

import (
	"context"
	"errors"
	"sync"

	"github.com/ent0n29/prepvoice/internal/audio"
	"github.com/ent0n29/prepvoice/internal/playback"
)

type fakeRecorder struct {
	mu       sync.Mutex
	active   bool
	starts   int
	startErr error
	stopErr  error
}

func (r *fakeRecorder) Start(_ context.Context, tap audio.FrameTap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	if r.startErr != nil {
		return r.startErr
	}
	if r.active {
		return audio.ErrAlreadyCapturing
	}
	r.active = true
	if tap != nil {
		tap([]byte{0, 0})
	}
	return nil
}

func (r *fakeRecorder) Stop() (audio.EncodedBuffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return audio.EncodedBuffer{}, audio.ErrNotCapturing
	}
	r.active = false
	if r.stopErr != nil {
		return audio.EncodedBuffer{}, r.stopErr
	}
	return audio.EncodedBuffer{PCM: make([]byte, 3200), SampleRate: 16000, Samples: 1600}, nil
}

func (r *fakeRecorder) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
}

func (r *fakeRecorder) isActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

type fakeRecognizer struct {
	mu   sync.Mutex
	text string
	err  error
}

func (r *fakeRecognizer) Recognize(context.Context, audio.EncodedBuffer) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text, r.err
}

func (r *fakeRecognizer) set(text string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text, r.err = text, err
}

// manualSpeaker plays nothing until drain is called; Stop behaves like the real queue
// and fires the drained signal.
type manualSpeaker struct {
	mu        sync.Mutex
	queued    []string
	onDrained func()
}

func (s *manualSpeaker) Enqueue(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, text)
}

func (s *manualSpeaker) EnqueueAudio(_ playback.Audio, text string) {
	s.Enqueue(text)
}

func (s *manualSpeaker) Stop() {
	s.mu.Lock()
	s.queued = nil
	fn := s.onDrained
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *manualSpeaker) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued) > 0
}

// drain finishes everything queued and fires the drained signal.
func (s *manualSpeaker) drain() {
	s.mu.Lock()
	had := len(s.queued) > 0
	s.queued = nil
	fn := s.onDrained
	s.mu.Unlock()
	if had && fn != nil {
		fn()
	}
}

type fakeSender struct {
	mu          sync.Mutex
	down        bool
	transcripts []string
	started     int
	chunks      int
}

func (s *fakeSender) SendTranscript(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return false
	}
	s.transcripts = append(s.transcripts, text)
	return true
}

func (s *fakeSender) SendUserStartedSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return !s.down
}

func (s *fakeSender) SendAudioChunk([]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks++
	return !s.down
}

var errRecognizerDown = errors.New("recognizer down")

// streamOpenSnapshot reads the open-stream flag under the controller lock.
func (c *Controller) streamOpenSnapshot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamOpen
}
