package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ffmpegStartupGrace = 250 * time.Millisecond
	ffmpegStopGrace    = 1200 * time.Millisecond
	frameDuration      = 20 * time.Millisecond
)

// FFmpegDevice captures mono float32 frames from the system microphone through ffmpeg.
type FFmpegDevice struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
}

func NewFFmpegDevice(command, inputFormat, inputDevice string, sampleRate int) *FFmpegDevice {
	if command == "" {
		command = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = "pulse"
	}
	if inputDevice == "" {
		inputDevice = "default"
	}
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &FFmpegDevice{
		Command:     command,
		InputFormat: inputFormat,
		InputDevice: inputDevice,
		SampleRate:  sampleRate,
	}
}

func (d *FFmpegDevice) Open(ctx context.Context) (Stream, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", d.InputFormat,
		"-i", d.InputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(d.SampleRate),
		"-f", "f32le",
		"-",
	}

	// ctx bounds startup only; the process lives until the stream is closed.
	cmd := exec.Command(d.Command, args...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr
	cmd.WaitDelay = ffmpegStopGrace

	stdout, pw, err := os.Pipe()
	if err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = pw.Close()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, &DeviceError{Op: "open", Err: fmt.Errorf("%w: %v", ErrNoDevice, err)}
		}
		return nil, &DeviceError{Op: "open", Err: err}
	}
	_ = pw.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	grace := time.NewTimer(ffmpegStartupGrace)
	defer grace.Stop()
	select {
	case err := <-waitErr:
		_ = stdout.Close()
		return nil, &DeviceError{Op: "open", Err: classifyCaptureFailure(err, stderr.String())}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		_ = stdout.Close()
		return nil, &DeviceError{Op: "open", Err: ctx.Err()}
	case <-grace.C:
	}

	s := &ffmpegStream{
		rate:    d.SampleRate,
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
		frames:  make(chan []float32, 16),
		closing: make(chan struct{}),
	}
	go s.read(frameSamples(d.SampleRate))
	return s, nil
}

func frameSamples(rate int) int {
	n := int(int64(rate) * int64(frameDuration) / int64(time.Second))
	if n <= 0 {
		return 1
	}
	return n
}

// classifyCaptureFailure maps ffmpeg diagnostics onto the capture sentinel errors.
func classifyCaptureFailure(err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "not authorized"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
	case strings.Contains(lower, "no such device"),
		strings.Contains(lower, "no such file"),
		strings.Contains(lower, "cannot open audio device"):
		return fmt.Errorf("%w: %s", ErrNoDevice, msg)
	}
	if err == nil {
		err = errors.New("capture process exited before capture started")
	}
	if msg != "" {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}

type ffmpegStream struct {
	rate    int
	stdout  *os.File
	stderr  *syncBuffer
	process *os.Process
	waitErr <-chan error
	frames  chan []float32

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu      sync.Mutex
	readErr error
}

func (s *ffmpegStream) SampleRate() int          { return s.rate }
func (s *ffmpegStream) Frames() <-chan []float32 { return s.frames }

func (s *ffmpegStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readErr
}

func (s *ffmpegStream) read(samplesPerFrame int) {
	defer close(s.frames)
	buf := make([]byte, samplesPerFrame*4)
	for {
		n, err := io.ReadFull(s.stdout, buf)
		if n >= 4 {
			frame := decodeF32LE(buf[:n-n%4])
			select {
			case s.frames <- frame:
			case <-s.closing:
				return
			}
		}
		if err == nil {
			continue
		}
		select {
		case <-s.closing:
		default:
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = errors.New("capture stream ended unexpectedly")
			}
			s.mu.Lock()
			s.readErr = classifyCaptureFailure(err, s.stderr.String())
			s.mu.Unlock()
		}
		return
	}
}

func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}
		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.closeErr = normalizeExitErr(err)
			}
		case <-time.After(ffmpegStopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.closeErr = normalizeExitErr(err)
			}
		}
		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}

func normalizeExitErr(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func decodeF32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
