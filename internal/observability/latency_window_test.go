package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe(StageRecognition, 500)
	w.Observe(StageRecognition, 700)
	w.Observe(StageRecognition, 900)
	w.Observe("", 100)
	w.Observe(StageReport, -1)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageRecognition {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageRecognition)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 1500 || s.OverTarget {
		t.Fatalf("TargetP95MS = %.2f, OverTarget = %v; want 1500, false", s.TargetP95MS, s.OverTarget)
	}
}

func TestLatencyWindowOrdersStagesAndFlagsBudget(t *testing.T) {
	w := newLatencyWindow(4)
	w.Observe(StageReport, 70000)
	w.Observe(StageRecognition, 200)
	w.Observe("unknown_stage", 10)

	snap := w.Snapshot()
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	if snap.Stages[0].Stage != StageRecognition || snap.Stages[1].Stage != StageReport {
		t.Fatalf("stage order = %s, %s", snap.Stages[0].Stage, snap.Stages[1].Stage)
	}
	if !snap.Stages[1].OverTarget {
		t.Fatalf("report stage OverTarget = false at p95 %.0f", snap.Stages[1].P95MS)
	}
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe(StageAISpeech, 10)
	w.Observe(StageAISpeech, 20)
	w.Observe(StageAISpeech, 30)

	snap := w.Snapshot()
	if got := snap.Stages[0].Samples; got != 2 {
		t.Fatalf("Samples = %d, want 2", got)
	}
	if got := snap.Stages[0].AvgMS; got != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("idle", "recording")
	m.ObserveRecognition(time.Second)
	if snap := m.SnapshotStages(); len(snap.Stages) != 0 {
		t.Fatalf("len(Stages) = %d, want 0", len(snap.Stages))
	}
}

func TestMetricsRecordsStages(t *testing.T) {
	m := NewMetrics("prepvoice_test", prometheus.NewRegistry())
	m.ObserveRecognition(300 * time.Millisecond)
	m.ObserveStage(StageRecognition, 420*time.Millisecond)

	snap := m.SnapshotStages()
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != StageRecognition {
		t.Fatalf("unexpected stages: %+v", snap.Stages)
	}
	if snap.Stages[0].LastMS != 420 {
		t.Fatalf("LastMS = %.0f, want 420", snap.Stages[0].LastMS)
	}
}
