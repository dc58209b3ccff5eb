package report

import (
	"bytes"
	"encoding/json"
	"errors"
)

var ErrInvalidReport = errors.New("report has no overall assessment")

// FinalReport is the interviewer's structured assessment. Only the overall-assessment
// block is interpreted; the rest is carried through untouched.
type FinalReport struct {
	Raw               json.RawMessage
	OverallAssessment json.RawMessage
}

// Decode validates raw. It returns (nil, nil) when no report was delivered and
// ErrInvalidReport when the overall-assessment block is missing or empty.
func Decode(raw json.RawMessage) (*FinalReport, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var shape struct {
		OverallAssessment json.RawMessage `json:"overallAssessment"`
	}
	if err := json.Unmarshal(trimmed, &shape); err != nil {
		return nil, ErrInvalidReport
	}
	if !nonEmptyJSON(shape.OverallAssessment) {
		return nil, ErrInvalidReport
	}
	return &FinalReport{
		Raw:               append(json.RawMessage(nil), trimmed...),
		OverallAssessment: shape.OverallAssessment,
	}, nil
}

func (r *FinalReport) MarshalJSON() ([]byte, error) {
	if r == nil || len(r.Raw) == 0 {
		return []byte("null"), nil
	}
	return r.Raw, nil
}

func nonEmptyJSON(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return false
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	case string:
		return len(bytes.TrimSpace([]byte(t))) > 0
	default:
		return true
	}
}
