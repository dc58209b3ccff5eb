package interview

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/ent0n29/prepvoice/internal/audio"
	"github.com/ent0n29/prepvoice/internal/channel"
	"github.com/ent0n29/prepvoice/internal/completion"
	"github.com/ent0n29/prepvoice/internal/history"
	"github.com/ent0n29/prepvoice/internal/playback"
	"github.com/ent0n29/prepvoice/internal/protocol"
	"github.com/ent0n29/prepvoice/internal/report"
	"github.com/ent0n29/prepvoice/internal/turn"
)

// interviewer answers every transcript with a three-chunk stream and every
// complete-interview with a final report.
type interviewer struct {
	*httptest.Server

	mu       sync.Mutex
	received []protocol.EventName
}

func newInterviewer(t *testing.T) *interviewer {
	t.Helper()
	iv := &interviewer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	iv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			iv.mu.Lock()
			iv.received = append(iv.received, env.Event)
			iv.mu.Unlock()

			var replies []string
			switch env.Event {
			case protocol.EventJoin:
				replies = []string{`{"event":"joined","data":{"sessionId":"sess-1"}}`}
			case protocol.EventUserTranscript:
				replies = []string{
					`{"event":"ai-stream-start","data":{}}`,
					`{"event":"ai-stream-chunk","data":{"text":"Thanks. "}}`,
					`{"event":"ai-stream-chunk","data":{"text":"Tell me about "}}`,
					`{"event":"ai-stream-chunk","data":{"text":"a hard bug."}}`,
					`{"event":"ai-stream-end","data":{}}`,
				}
			case protocol.EventCompleteInterview:
				replies = []string{
					`{"event":"interview-completion-started","data":{}}`,
					`{"event":"interview-completed","data":{"sessionId":"sess-1","finalReport":{"overallAssessment":{"score":7}},"completionReason":"candidate_ended","wasAutomatic":false}}`,
				}
			}
			for _, reply := range replies {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(iv.Close)
	return iv
}

func (iv *interviewer) count(event protocol.EventName) int {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	n := 0
	for _, e := range iv.received {
		if e == event {
			n++
		}
	}
	return n
}

type stubRecorder struct {
	mu     sync.Mutex
	active bool
}

func (r *stubRecorder) Start(context.Context, audio.FrameTap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return audio.ErrAlreadyCapturing
	}
	r.active = true
	return nil
}

func (r *stubRecorder) Stop() (audio.EncodedBuffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return audio.EncodedBuffer{}, audio.ErrNotCapturing
	}
	r.active = false
	return audio.EncodedBuffer{PCM: make([]byte, 3200), SampleRate: audio.TargetSampleRate, Samples: 1600}, nil
}

func (r *stubRecorder) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
}

type stubRecognizer struct{ text string }

func (r stubRecognizer) Recognize(context.Context, audio.EncodedBuffer) (string, error) {
	return r.text, nil
}

type textSynthesizer struct{}

func (textSynthesizer) Synthesize(_ context.Context, text string) (playback.Audio, error) {
	return playback.Audio{Data: []byte(text), Format: playback.FormatWAV}, nil
}

type recordingPlayer struct {
	mu     sync.Mutex
	played []string
}

func (p *recordingPlayer) Play(ctx context.Context, a playback.Audio) error {
	select {
	case <-time.After(5 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	p.played = append(p.played, string(a.Data))
	p.mu.Unlock()
	return nil
}

func (p *recordingPlayer) text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.played, "")
}

type stubReports struct{}

func (stubReports) Fetch(context.Context, string) (*report.FinalReport, error) { return nil, nil }
func (stubReports) Complete(context.Context, string) error                    { return nil }
func (stubReports) SaveNotes(context.Context, string, string) error           { return nil }

func newTestSession(t *testing.T, url string, player playback.Player, store history.Store) *Session {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ch := channel.New(channel.Config{
		URL:            "ws" + strings.TrimPrefix(url, "http"),
		ConnectTimeout: 2 * time.Second,
	}, logger, nil)
	queue := playback.NewQueue(textSynthesizer{}, player, nil, logger, nil)
	s, err := New(Config{
		SessionID:     "sess-1",
		Track:         "backend",
		PollInterval:  20 * time.Millisecond,
		ReportTimeout: 2 * time.Second,
	}, Deps{
		Channel:    ch,
		Queue:      queue,
		Recorder:   &stubRecorder{},
		Recognizer: stubRecognizer{text: "I led the payments migration"},
		Reports:    stubReports{},
		History:    store,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func waitForState(t *testing.T, s *Session, want turn.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for s.Status().State != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", s.Status().State, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewRequiresSessionID(t *testing.T) {
	if _, err := New(Config{SessionID: "  "}, Deps{}); err == nil {
		t.Fatalf("New() error = nil, want error for blank session id")
	}
}

func TestRecordingRequiresStart(t *testing.T) {
	iv := newInterviewer(t)
	s := newTestSession(t, iv.URL, &recordingPlayer{}, history.NewInMemoryStore())

	if err := s.StartRecording(context.Background()); err != ErrNotStarted {
		t.Fatalf("StartRecording() error = %v, want %v", err, ErrNotStarted)
	}
	if _, err := s.StopRecording(context.Background()); err != ErrNotStarted {
		t.Fatalf("StopRecording() error = %v, want %v", err, ErrNotStarted)
	}
}

func TestSessionFullInterview(t *testing.T) {
	iv := newInterviewer(t)
	player := &recordingPlayer{}
	store := history.NewInMemoryStore()
	s := newTestSession(t, iv.URL, player, store)
	events, cancel := s.Subscribe(256)
	defer cancel()

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st := s.Status(); !st.MicArmable || st.Channel != channel.StateConnected {
		t.Fatalf("status after start = %+v", st)
	}

	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	text, err := s.StopRecording(ctx)
	if err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if text != "I led the payments migration" {
		t.Fatalf("StopRecording() = %q", text)
	}

	waitForState(t, s, turn.StateIdle)
	if got := player.text(); got != "Thanks. Tell me about a hard bug." {
		t.Fatalf("played = %q", got)
	}

	turns, err := s.Transcript(ctx, 10)
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("Transcript() = %+v, want 2 turns", turns)
	}
	bySpeaker := map[string]string{}
	for _, tr := range turns {
		bySpeaker[tr.Speaker] = tr.Text
	}
	if bySpeaker[history.SpeakerInterviewer] != "Thanks. Tell me about a hard bug." {
		t.Fatalf("interviewer turn = %q", bySpeaker[history.SpeakerInterviewer])
	}
	if bySpeaker[history.SpeakerCandidate] != "I led the payments migration" {
		t.Fatalf("candidate turn = %q", bySpeaker[history.SpeakerCandidate])
	}

	s.EndCall()
	s.EndCall()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("session did not resolve, phase = %s", s.Status().Phase)
	}
	out, ok := s.Outcome()
	if !ok || out.Status != completion.StatusCompleted || out.Source != completion.SourcePush {
		t.Fatalf("Outcome() = %+v, %v", out, ok)
	}
	if got := iv.count(protocol.EventCompleteInterview); got != 1 {
		t.Fatalf("complete-interview sent %d times, want 1", got)
	}
	if st := s.Status(); st.State != turn.StateEnded || st.MicArmable {
		t.Fatalf("status after end = %+v", st)
	}

	sawCompletion := false
	for !sawCompletion {
		select {
		case evt := <-events:
			if evt.Type == EventCompletion {
				sawCompletion = true
			}
			if evt.ID == "" {
				t.Fatalf("event without id: %+v", evt)
			}
		case <-time.After(time.Second):
			t.Fatalf("no completion event published")
		}
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	iv := newInterviewer(t)
	s := newTestSession(t, iv.URL, &recordingPlayer{}, nil)
	events, _ := s.Subscribe(4)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.Close()
	s.Close()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				if err := s.Start(context.Background()); err == nil {
					t.Fatalf("Start() after Close error = nil")
				}
				return
			}
		case <-deadline:
			t.Fatalf("subscription not closed")
		}
	}
}
