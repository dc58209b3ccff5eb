package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Interview stages tracked by the latency window, in reporting order.
const (
	StageRecognition   = "stop_to_transcript"
	StageFirstResponse = "transcript_to_ai_start"
	StageAISpeech      = "ai_start_to_drained"
	StageReport        = "end_to_report"
)

var stageOrder = []string{StageRecognition, StageFirstResponse, StageAISpeech, StageReport}

// p95 budgets in milliseconds; AI speech length depends on the question, so it has none.
var stageBudgetMS = map[string]float64{
	StageRecognition:   1500,
	StageFirstResponse: 2500,
	StageReport:        60000,
}

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  bool    `json:"over_target,omitempty"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
}

// latencyWindow keeps the most recent samples of each known stage.
type latencyWindow struct {
	mu      sync.Mutex
	size    int
	samples map[string][]float64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	w := &latencyWindow{size: size, samples: make(map[string][]float64, len(stageOrder))}
	for _, stage := range stageOrder {
		w.samples[stage] = make([]float64, 0, size)
	}
	return w
}

// Observe records ms for stage. Unknown stages and negative durations are ignored.
func (w *latencyWindow) Observe(stage string, ms float64) {
	if ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	vals, ok := w.samples[stage]
	if !ok {
		return
	}
	if len(vals) == w.size {
		vals = append(vals[:0], vals[1:]...)
	}
	w.samples[stage] = append(vals, ms)
}

func (w *latencyWindow) Snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{GeneratedAt: time.Now().UTC(), WindowSize: w.size}
	for _, stage := range stageOrder {
		vals := w.samples[stage]
		if len(vals) == 0 {
			continue
		}
		sorted := slices.Sorted(slices.Values(vals))
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		st := StageStats{
			Stage:       stage,
			Samples:     len(sorted),
			LastMS:      round2(vals[len(vals)-1]),
			AvgMS:       round2(sum / float64(len(sorted))),
			P50MS:       nearestRank(sorted, 0.50),
			P95MS:       nearestRank(sorted, 0.95),
			TargetP95MS: stageBudgetMS[stage],
		}
		st.OverTarget = st.TargetP95MS > 0 && st.P95MS > st.TargetP95MS
		snap.Stages = append(snap.Stages, st)
	}
	return snap
}

// nearestRank returns the q-th percentile of an ascending, non-empty slice.
func nearestRank(sorted []float64, q float64) float64 {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return round2(sorted[idx])
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
