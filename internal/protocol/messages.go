package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventName identifies channel payload variants.
type EventName string

// Outbound events.
const (
	EventJoin                EventName = "join"
	EventUserTranscript      EventName = "user-transcript"
	EventAudioChunk          EventName = "audio-chunk"
	EventCompleteInterview   EventName = "complete-interview"
	EventUserStartedSpeaking EventName = "user-started-speaking"
)

// Inbound events.
const (
	EventJoined             EventName = "joined"
	EventAIResponse         EventName = "ai-audio-response"
	EventStreamStart        EventName = "ai-stream-start"
	EventStreamChunk        EventName = "ai-stream-chunk"
	EventStreamEnd          EventName = "ai-stream-end"
	EventCompletionStarted  EventName = "interview-completion-started"
	EventInterviewCompleted EventName = "interview-completed"
	EventError              EventName = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Join struct {
	SessionID string `json:"sessionId"`
	Track     string `json:"position"`
}

type UserTranscript struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Track     string `json:"position"`
}

// AudioChunk carries base64 PCM16LE at 16 kHz.
type AudioChunk struct {
	SessionID string `json:"sessionId"`
	Chunk     string `json:"chunk"`
}

type CompleteInterview struct {
	SessionID string `json:"sessionId"`
}

type UserStartedSpeaking struct {
	SessionID string `json:"sessionId"`
}

type Joined struct {
	SessionID string `json:"sessionId,omitempty"`
}

// AIResponse is one complete AI turn. Audio is optional base64 audio.
type AIResponse struct {
	Text      string `json:"text"`
	Audio     string `json:"audio,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type StreamStart struct{}

type StreamChunk struct {
	Text string `json:"text"`
}

type StreamEnd struct{}

type CompletionStarted struct{}

type InterviewCompleted struct {
	SessionID        string          `json:"sessionId"`
	FinalReport      json.RawMessage `json:"finalReport,omitempty"`
	CompletionReason string          `json:"completionReason,omitempty"`
	WasAutomatic     bool            `json:"wasAutomatic"`
}

type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Encode wraps payload in the channel envelope.
func Encode(event EventName, payload any) ([]byte, error) {
	if strings.TrimSpace(string(event)) == "" {
		return nil, errors.New("event name is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// ParseServerMessage decodes one inbound envelope into its typed payload.
func ParseServerMessage(raw []byte) (EventName, any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventJoined:
		var msg Joined
		if err := decodeData(env.Data, &msg); err != nil {
			return env.Event, nil, err
		}
		return env.Event, msg, nil
	case EventAIResponse:
		var msg AIResponse
		if err := decodeData(env.Data, &msg); err != nil {
			return env.Event, nil, err
		}
		if strings.TrimSpace(msg.Text) == "" && msg.Audio == "" {
			return env.Event, nil, errors.New("invalid ai-audio-response")
		}
		return env.Event, msg, nil
	case EventStreamStart:
		return env.Event, StreamStart{}, nil
	case EventStreamChunk:
		var msg StreamChunk
		if err := decodeData(env.Data, &msg); err != nil {
			return env.Event, nil, err
		}
		return env.Event, msg, nil
	case EventStreamEnd:
		return env.Event, StreamEnd{}, nil
	case EventCompletionStarted:
		return env.Event, CompletionStarted{}, nil
	case EventInterviewCompleted:
		var msg InterviewCompleted
		if err := decodeData(env.Data, &msg); err != nil {
			return env.Event, nil, err
		}
		return env.Event, msg, nil
	case EventError:
		var msg ErrorEvent
		if err := decodeData(env.Data, &msg); err != nil {
			return env.Event, nil, err
		}
		return env.Event, msg, nil
	default:
		return env.Event, nil, ErrUnsupportedType
	}
}

func decodeData(data json.RawMessage, out any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid event data: %w", err)
	}
	return nil
}
