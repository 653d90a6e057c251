package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// baselineAlpha is the EMA smoothing factor applied on every observation
// after the first.
const baselineAlpha = 0.1

// summaryMetrics are the four statistics the baseline is kept over.
type summaryMetrics struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Max  float64 `json:"max"`
	Min  float64 `json:"min"`
}

func summarize(features []float64) summaryMetrics {
	if len(features) == 0 {
		return summaryMetrics{}
	}
	m := summaryMetrics{Max: features[0], Min: features[0]}
	var sum float64
	for _, v := range features {
		sum += v
		if v > m.Max {
			m.Max = v
		}
		if v < m.Min {
			m.Min = v
		}
	}
	m.Mean = sum / float64(len(features))

	var sq float64
	for _, v := range features {
		d := v - m.Mean
		sq += d * d
	}
	m.Std = math.Sqrt(sq / float64(len(features)))
	return m
}

// BehavioralBaseline holds the adaptive profile for one (entity, entityType,
// patternType) key.
type BehavioralBaseline struct {
	EntityID       string         `json:"entity_id"`
	EntityType     string         `json:"entity_type"`
	PatternType    string         `json:"pattern_type"`
	Baseline       summaryMetrics `json:"baseline_metrics"`
	Current        summaryMetrics `json:"current_metrics"`
	DeviationScore float64        `json:"deviation_score"`
	LastUpdated    time.Time      `json:"last_updated"`
}

// BaselineTracker maintains per-entity behavioral baselines. Entries live in
// a bounded LRU so long-running instances do not grow without limit.
type BaselineTracker struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *BehavioralBaseline]
}

// NewBaselineTracker creates a tracker holding at most maxEntries baselines;
// the least recently observed key is evicted beyond that.
func NewBaselineTracker(maxEntries int) *BaselineTracker {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, _ := lru.New[string, *BehavioralBaseline](maxEntries)
	return &BaselineTracker{cache: cache}
}

// Observe scores the feature vector against the entity's baseline and then
// folds the observation into it. The first observation of a key establishes
// the baseline and scores 0.
func (t *BaselineTracker) Observe(entityID, entityType, patternType string, features []float64, now time.Time) float64 {
	key := fmt.Sprintf("%s:%s:%s", entityID, entityType, patternType)
	current := summarize(features)

	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.cache.Get(key)
	if !ok {
		t.cache.Add(key, &BehavioralBaseline{
			EntityID:    entityID,
			EntityType:  entityType,
			PatternType: patternType,
			Baseline:    current,
			Current:     current,
			LastUpdated: now,
		})
		return 0
	}

	deviation := deviationScore(b.Baseline, current)

	b.Baseline = emaUpdate(b.Baseline, current)
	b.Current = current
	b.DeviationScore = deviation
	b.LastUpdated = now

	return deviation
}

// Len returns the number of tracked baselines.
func (t *BaselineTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}

// deviationScore is the mean relative deviation over the baseline statistics,
// skipping statistics whose baseline is zero, capped at 1.
func deviationScore(baseline, current summaryMetrics) float64 {
	var sum float64
	var n int
	for _, pair := range [][2]float64{
		{baseline.Mean, current.Mean},
		{baseline.Std, current.Std},
		{baseline.Max, current.Max},
		{baseline.Min, current.Min},
	} {
		if pair[0] == 0 {
			continue
		}
		sum += math.Abs(pair[1]-pair[0]) / math.Abs(pair[0])
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Min(sum/float64(n), 1.0)
}

func emaUpdate(baseline, current summaryMetrics) summaryMetrics {
	return summaryMetrics{
		Mean: baselineAlpha*current.Mean + (1-baselineAlpha)*baseline.Mean,
		Std:  baselineAlpha*current.Std + (1-baselineAlpha)*baseline.Std,
		Max:  baselineAlpha*current.Max + (1-baselineAlpha)*baseline.Max,
		Min:  baselineAlpha*current.Min + (1-baselineAlpha)*baseline.Min,
	}
}
