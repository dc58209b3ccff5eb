package recognition

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/ent0n29/prepvoice/internal/audio"
)

func testBuffer() audio.EncodedBuffer {
	return audio.EncodedBuffer{PCM: []byte{1, 0, 2, 0}, SampleRate: 16000, Samples: 2}
}

func TestHTTPRecognizerPostsRawPCM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if len(body) != 4 {
			t.Errorf("body length = %d, want 4", len(body))
		}
		if r.Header.Get("X-Sample-Rate") != "16000" {
			t.Errorf("X-Sample-Rate = %q, want 16000", r.Header.Get("X-Sample-Rate"))
		}
		_, _ = w.Write([]byte(`{"text":"  tell me about yourself "}`))
	}))
	defer srv.Close()

	r, err := NewHTTPRecognizer(HTTPConfig{URL: srv.URL}, zaptest.NewLogger(t), nil)
	if err != nil {
		t.Fatalf("NewHTTPRecognizer() error = %v", err)
	}
	text, err := r.Recognize(context.Background(), testBuffer())
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if text != "tell me about yourself" {
		t.Fatalf("Recognize() = %q, want trimmed transcript", text)
	}
}

func TestHTTPRecognizerWAVBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !audio.IsWAV(body) {
			t.Errorf("body is not WAV")
		}
		if r.Header.Get("Content-Type") != "audio/wav" {
			t.Errorf("Content-Type = %q, want audio/wav", r.Header.Get("Content-Type"))
		}
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	r, err := NewHTTPRecognizer(HTTPConfig{URL: srv.URL, Format: FormatWAV}, nil, nil)
	if err != nil {
		t.Fatalf("NewHTTPRecognizer() error = %v", err)
	}
	if _, err := r.Recognize(context.Background(), testBuffer()); err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
}

func TestHTTPRecognizerEmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"text":"   "}`))
	}))
	defer srv.Close()

	r, _ := NewHTTPRecognizer(HTTPConfig{URL: srv.URL}, nil, nil)
	if _, err := r.Recognize(context.Background(), testBuffer()); !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("Recognize() error = %v, want ErrEmptyTranscript", err)
	}
	if _, err := r.Recognize(context.Background(), audio.EncodedBuffer{}); !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("Recognize(empty) error = %v, want ErrEmptyTranscript", err)
	}
}

func TestHTTPRecognizerRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"text":"second try"}`))
	}))
	defer srv.Close()

	r, _ := NewHTTPRecognizer(HTTPConfig{URL: srv.URL, MaxAttempts: 3, Backoff: 1}, nil, nil)
	text, err := r.Recognize(context.Background(), testBuffer())
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if text != "second try" || calls.Load() != 2 {
		t.Fatalf("Recognize() = %q after %d calls", text, calls.Load())
	}
}

func TestHTTPRecognizerDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	r, _ := NewHTTPRecognizer(HTTPConfig{URL: srv.URL, MaxAttempts: 3}, nil, nil)
	_, err := r.Recognize(context.Background(), testBuffer())
	var recErr *Error
	if !errors.As(err, &recErr) || recErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("Recognize() error = %v, want *Error with 400", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestNewHTTPRecognizerValidates(t *testing.T) {
	if _, err := NewHTTPRecognizer(HTTPConfig{}, nil, nil); err == nil {
		t.Fatalf("NewHTTPRecognizer() without URL error = nil")
	}
	if _, err := NewHTTPRecognizer(HTTPConfig{URL: "http://x", Format: "flac"}, nil, nil); err == nil {
		t.Fatalf("NewHTTPRecognizer() with flac error = nil")
	}
}
