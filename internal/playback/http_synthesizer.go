package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/prepvoice/internal/reliability"
)

const maxSynthesisBytes = 16 << 20

type HTTPSynthesizerConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// HTTPSynthesizer posts {"text": ...} to a remote endpoint and returns the audio body.
type HTTPSynthesizer struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPSynthesizer(cfg HTTPSynthesizerConfig) (*HTTPSynthesizer, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("synthesis URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &HTTPSynthesizer{
		url:    strings.TrimSpace(cfg.URL),
		apiKey: strings.TrimSpace(cfg.APIKey),
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Audio{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Audio{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Audio{}, &SynthesisError{Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSynthesisBytes))
	if err != nil {
		return Audio{}, &SynthesisError{StatusCode: resp.StatusCode, Err: err}
	}
	switch {
	case reliability.IsUnauthorizedHTTPStatus(resp.StatusCode):
		return Audio{}, &SynthesisError{StatusCode: resp.StatusCode, Err: ErrUnauthorized}
	case !reliability.IsSuccessHTTPStatus(resp.StatusCode):
		return Audio{}, &SynthesisError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %s", ErrUnavailable, strings.TrimSpace(string(data))),
		}
	case len(data) == 0:
		return Audio{}, &SynthesisError{StatusCode: resp.StatusCode, Err: ErrEmptyAudio}
	}

	format, rate := formatFromContentType(resp.Header.Get("Content-Type"))
	return Audio{Data: data, Format: format, SampleRate: rate}, nil
}

func formatFromContentType(contentType string) (string, int) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return FormatUnknown, 0
	}
	switch strings.ToLower(mediaType) {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return FormatWAV, 0
	case "audio/mpeg", "audio/mp3":
		return FormatMP3, 0
	case "audio/l16", "audio/pcm":
		rate, _ := strconv.Atoi(params["rate"])
		return FormatPCM16LE, rate
	default:
		return FormatUnknown, 0
	}
}
