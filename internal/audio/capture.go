package audio

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoDevice         = errors.New("no microphone device available")
	ErrAlreadyCapturing = errors.New("capture already in progress")
	ErrNotCapturing     = errors.New("no capture in progress")
)

// DeviceError reports a microphone failure. It is fatal to the turn being started.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return "audio device " + e.Op + ": " + e.Err.Error()
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Stream is a live microphone stream delivering float frames at the device's native rate.
// Frames must be closed once Close is called or the device stops.
type Stream interface {
	SampleRate() int
	Frames() <-chan []float32
	Err() error
	Close() error
}

// Device opens the microphone.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// FrameTap receives each captured frame already encoded as canonical PCM16LE.
type FrameTap func(pcm []byte)

// Capture owns the microphone for one utterance at a time.
type Capture struct {
	device     Device
	targetRate int
	logger     *zap.Logger

	mu     sync.Mutex
	active *recording
}

type recording struct {
	stream Stream
	rate   int
	frames [][]float32
	done   chan struct{}
}

func NewCapture(device Device, targetRate int, logger *zap.Logger) *Capture {
	if targetRate <= 0 {
		targetRate = TargetSampleRate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capture{device: device, targetRate: targetRate, logger: logger}
}

// Start acquires the microphone and begins buffering frames until Stop or Abort.
func (c *Capture) Start(ctx context.Context, tap FrameTap) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return ErrAlreadyCapturing
	}

	stream, err := c.device.Open(ctx)
	if err != nil {
		var devErr *DeviceError
		if errors.As(err, &devErr) {
			return err
		}
		return &DeviceError{Op: "open", Err: err}
	}
	if stream.SampleRate() <= 0 {
		_ = stream.Close()
		return &DeviceError{Op: "open", Err: ErrNoDevice}
	}

	rec := &recording{
		stream: stream,
		rate:   stream.SampleRate(),
		done:   make(chan struct{}),
	}
	go rec.collect(c.targetRate, tap)
	c.active = rec
	c.logger.Debug("capture started", zap.Int("native_rate", rec.rate))
	return nil
}

// Stop releases the microphone and returns the buffered utterance encoded at the target rate.
// The device is released even when the stream failed; no partial buffer is returned then.
func (c *Capture) Stop() (EncodedBuffer, error) {
	rec := c.detach()
	if rec == nil {
		return EncodedBuffer{}, ErrNotCapturing
	}
	c.release(rec)

	if err := rec.stream.Err(); err != nil {
		return EncodedBuffer{}, &DeviceError{Op: "capture", Err: err}
	}

	total := 0
	for _, f := range rec.frames {
		total += len(f)
	}
	samples := make([]float32, 0, total)
	for _, f := range rec.frames {
		samples = append(samples, f...)
	}
	return EncodeUtterance(samples, rec.rate, c.targetRate), nil
}

// Abort releases the microphone and discards anything buffered. Safe to call in any state.
func (c *Capture) Abort() {
	if rec := c.detach(); rec != nil {
		c.release(rec)
	}
}

// Active reports whether the microphone is currently held.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

func (c *Capture) detach() *recording {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.active
	c.active = nil
	return rec
}

func (c *Capture) release(rec *recording) {
	if err := rec.stream.Close(); err != nil {
		c.logger.Warn("microphone release failed", zap.Error(err))
	}
	<-rec.done
}

func (r *recording) collect(targetRate int, tap FrameTap) {
	defer close(r.done)
	for frame := range r.stream.Frames() {
		if len(frame) == 0 {
			continue
		}
		r.frames = append(r.frames, append([]float32(nil), frame...))
		if tap != nil {
			tap(EncodeUtterance(frame, r.rate, targetRate).PCM)
		}
	}
}
