package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstObservationEstablishesBaseline(t *testing.T) {
	tr := NewBaselineTracker(0)
	score := tr.Observe("alice", "user", "process", []float64{1, 2, 3}, time.Now())
	assert.Equal(t, 0.0, score)
	assert.Equal(t, 1, tr.Len())
}

func TestIdenticalObservationScoresZero(t *testing.T) {
	tr := NewBaselineTracker(0)
	now := time.Now()
	features := []float64{4, 8, 15, 16}

	tr.Observe("alice", "user", "process", features, now)
	score := tr.Observe("alice", "user", "process", features, now)
	assert.Equal(t, 0.0, score)
}

func TestDeviationGrowsWithChange(t *testing.T) {
	tr := NewBaselineTracker(0)
	now := time.Now()

	tr.Observe("alice", "user", "process", []float64{10, 10, 10}, now)
	small := tr.Observe("alice", "user", "process", []float64{11, 11, 11}, now)

	tr.Observe("bob", "user", "process", []float64{10, 10, 10}, now)
	large := tr.Observe("bob", "user", "process", []float64{30, 30, 30}, now)

	assert.Greater(t, small, 0.0)
	assert.Greater(t, large, small)
	assert.LessOrEqual(t, large, 1.0)
}

func TestBaselineEMAUpdate(t *testing.T) {
	base := summaryMetrics{Mean: 10, Std: 2, Max: 14, Min: 6}
	cur := summaryMetrics{Mean: 20, Std: 4, Max: 28, Min: 12}

	got := emaUpdate(base, cur)
	assert.InDelta(t, 11.0, got.Mean, 1e-9)
	assert.InDelta(t, 2.2, got.Std, 1e-9)
	assert.InDelta(t, 15.4, got.Max, 1e-9)
	assert.InDelta(t, 6.6, got.Min, 1e-9)
}

func TestSeparateKeysAreIndependent(t *testing.T) {
	tr := NewBaselineTracker(0)
	now := time.Now()

	tr.Observe("alice", "user", "process", []float64{100, 100}, now)
	// Fresh key for the same entity, different pattern type.
	score := tr.Observe("alice", "user", "network", []float64{1, 1}, now)
	assert.Equal(t, 0.0, score)
	assert.Equal(t, 2, tr.Len())
}

func TestBaselineEvictionBeyondCapacity(t *testing.T) {
	tr := NewBaselineTracker(2)
	now := time.Now()

	tr.Observe("a", "user", "process", []float64{1}, now)
	tr.Observe("b", "user", "process", []float64{1}, now)
	tr.Observe("c", "user", "process", []float64{1}, now)
	assert.Equal(t, 2, tr.Len())

	// "a" was evicted; re-observing it re-establishes a baseline at score 0.
	score := tr.Observe("a", "user", "process", []float64{50}, now)
	assert.Equal(t, 0.0, score)
}

func TestSummarize(t *testing.T) {
	m := summarize([]float64{2, 4, 6, 8})
	assert.Equal(t, 5.0, m.Mean)
	assert.Equal(t, 8.0, m.Max)
	assert.Equal(t, 2.0, m.Min)
	assert.InDelta(t, 2.2360679, m.Std, 1e-6)

	empty := summarize(nil)
	require.Equal(t, summaryMetrics{}, empty)
}

func TestDeviationScoreSkipsZeroBaselines(t *testing.T) {
	base := summaryMetrics{Mean: 0, Std: 0, Max: 10, Min: 0}
	cur := summaryMetrics{Mean: 5, Std: 5, Max: 15, Min: 5}
	// Only Max contributes: |15-10|/10 = 0.5.
	assert.InDelta(t, 0.5, deviationScore(base, cur), 1e-9)

	allZero := summaryMetrics{}
	assert.Equal(t, 0.0, deviationScore(allZero, cur))
}
