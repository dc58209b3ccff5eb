package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestClientFetch(t *testing.T) {
	responses := map[string]string{
		"ready":   `{"success":true,"report":{"overallAssessment":{"score":9}}}`,
		"pending": `{"success":false,"report":null}`,
		"empty":   `{"success":true,"report":{}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		id := r.URL.Path[len("/sessions/") : len(r.URL.Path)-len("/report")]
		body, ok := responses[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL + "/", Token: "tok"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	r, err := c.Fetch(context.Background(), "ready")
	if err != nil || r == nil {
		t.Fatalf("Fetch(ready) = %v, %v", r, err)
	}
	r, err = c.Fetch(context.Background(), "pending")
	if err != nil || r != nil {
		t.Fatalf("Fetch(pending) = %v, %v; want nil, nil", r, err)
	}
	if _, err := c.Fetch(context.Background(), "empty"); !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("Fetch(empty) error = %v, want ErrInvalidReport", err)
	}
	_, err = c.Fetch(context.Background(), "missing")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("Fetch(missing) error = %v, want 404 StatusError", err)
	}
}

func TestClientCompleteAndNotes(t *testing.T) {
	var gotMethods []string
	var notes map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethods = append(gotMethods, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPost {
			_ = json.NewDecoder(r.Body).Decode(&notes)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := c.Complete(context.Background(), "s1"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := c.SaveNotes(context.Background(), "s1", "interrupted"); err != nil {
		t.Fatalf("SaveNotes() error = %v", err)
	}
	want := []string{"PUT /sessions/s1/complete", "POST /sessions/s1/notes"}
	if len(gotMethods) != 2 || gotMethods[0] != want[0] || gotMethods[1] != want[1] {
		t.Fatalf("requests = %v, want %v", gotMethods, want)
	}
	if notes["notes"] != "interrupted" {
		t.Fatalf("notes = %v", notes)
	}
}

func TestClientRequiresSessionID(t *testing.T) {
	c, err := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1"}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if _, err := c.Fetch(context.Background(), " "); err == nil {
		t.Fatalf("Fetch(\"\") error = nil, want error")
	}
	if _, err := NewClient(ClientConfig{}, nil); err == nil {
		t.Fatalf("NewClient() without base URL error = nil")
	}
}
