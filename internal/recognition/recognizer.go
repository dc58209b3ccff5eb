package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/prepvoice/internal/audio"
	"github.com/ent0n29/prepvoice/internal/observability"
	"github.com/ent0n29/prepvoice/internal/reliability"
)

// Body formats for the recognition endpoint.
const (
	FormatPCM = "pcm"
	FormatWAV = "wav"
)

var ErrEmptyTranscript = errors.New("no speech recognized")

// Recognizer turns one encoded utterance into text.
type Recognizer interface {
	Recognize(ctx context.Context, buf audio.EncodedBuffer) (string, error)
}

// Error is a failed recognition attempt. It never ends the session.
type Error struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("speech recognition HTTP %d: %v", e.StatusCode, e.Err)
	}
	return "speech recognition: " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

type HTTPConfig struct {
	URL         string
	Format      string
	APIToken    string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// HTTPRecognizer posts the utterance body to a remote endpoint that answers {"text": ...}.
type HTTPRecognizer struct {
	cfg     HTTPConfig
	client  *http.Client
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewHTTPRecognizer(cfg HTTPConfig, logger *zap.Logger, metrics *observability.Metrics) (*HTTPRecognizer, error) {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return nil, errors.New("recognition URL is required")
	}
	switch cfg.Format {
	case "":
		cfg.Format = FormatPCM
	case FormatPCM, FormatWAV:
	default:
		return nil, fmt.Errorf("unsupported recognition format %q", cfg.Format)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRecognizer{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Recognize returns ErrEmptyTranscript for silence or an empty result.
func (r *HTTPRecognizer) Recognize(ctx context.Context, buf audio.EncodedBuffer) (string, error) {
	if buf.Empty() {
		return "", ErrEmptyTranscript
	}
	body, contentType := buf.PCM, "application/octet-stream"
	if r.cfg.Format == FormatWAV {
		body, contentType = buf.WAV(), "audio/wav"
	}

	started := time.Now()
	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, r.cfg.Backoff, 2*time.Second)):
			}
		}
		text, err := r.post(ctx, body, contentType, buf.SampleRate)
		if err == nil {
			r.metrics.ObserveRecognition(time.Since(started))
			if text == "" {
				return "", ErrEmptyTranscript
			}
			return text, nil
		}
		lastErr = err
		var recErr *Error
		if ctx.Err() != nil || !errors.As(err, &recErr) || !recErr.Retryable {
			break
		}
		r.logger.Warn("recognition attempt failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", lastErr
}

func (r *HTTPRecognizer) post(ctx context.Context, body []byte, contentType string, sampleRate int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Sample-Rate", strconv.Itoa(sampleRate))
	if r.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &Error{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{StatusCode: resp.StatusCode, Retryable: true, Err: err}
	}
	if !reliability.IsSuccessHTTPStatus(resp.StatusCode) {
		return "", &Error{
			StatusCode: resp.StatusCode,
			Retryable:  reliability.IsRetryableHTTPStatus(resp.StatusCode),
			Err:        errors.New(strings.TrimSpace(string(b))),
		}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return "", &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return strings.TrimSpace(out.Text), nil
}
