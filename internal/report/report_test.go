package report

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeAcceptsOverallAssessment(t *testing.T) {
	raw := json.RawMessage(`{"overallAssessment":{"score":8,"summary":"solid"},"strengths":["clarity"]}`)
	r, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if r == nil || len(r.OverallAssessment) == 0 {
		t.Fatalf("Decode() = %+v, want report", r)
	}
	out, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != string(raw) {
		t.Fatalf("Marshal() = %s, want %s", out, raw)
	}
}

func TestDecodeRejectsEmptyShapes(t *testing.T) {
	for _, raw := range []string{
		`{}`,
		`{"overallAssessment":{}}`,
		`{"overallAssessment":null}`,
		`{"overallAssessment":""}`,
		`{"overallAssessment":[]}`,
		`{"scores":{"technical":7}}`,
		`"report"`,
	} {
		if _, err := Decode(json.RawMessage(raw)); !errors.Is(err, ErrInvalidReport) {
			t.Fatalf("Decode(%s) error = %v, want ErrInvalidReport", raw, err)
		}
	}
}

func TestDecodeMissingReport(t *testing.T) {
	for _, raw := range []string{``, `null`, `  `} {
		r, err := Decode(json.RawMessage(raw))
		if err != nil || r != nil {
			t.Fatalf("Decode(%q) = %v, %v; want nil, nil", raw, r, err)
		}
	}
}

func TestMarshalNilReport(t *testing.T) {
	var r *FinalReport
	out, err := json.Marshal(struct {
		Report *FinalReport `json:"report"`
	}{r})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"report":null}` {
		t.Fatalf("Marshal() = %s", out)
	}
}
