package engine

import (
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trainScorer fills the buffer with tightly clustered samples and retrains.
func trainScorer(t *testing.T, a *AnomalyScorer, n int) {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < n; i++ {
		sample := make([]float64, FeatureCount)
		for j := range sample {
			sample[j] = 10 + rng.Float64() // narrow band around 10
		}
		a.Record(sample)
	}
	require.True(t, a.Retrain(time.Now()))
}

func TestUntrainedScorerReturnsZero(t *testing.T) {
	a := NewAnomalyScorer("", 0, 0, zerolog.Nop())
	assert.False(t, a.Trained())
	assert.Equal(t, 0.0, a.Score(make([]float64, FeatureCount)))
}

func TestRetrainRequiresMinimumSamples(t *testing.T) {
	a := NewAnomalyScorer("", 100, 10, zerolog.Nop())
	for i := 0; i < 9; i++ {
		a.Record(make([]float64, FeatureCount))
	}
	assert.False(t, a.Retrain(time.Now()))
	assert.False(t, a.Trained())
}

func TestTrainedScorerSeparatesOutliers(t *testing.T) {
	a := NewAnomalyScorer("", 200, 50, zerolog.Nop())
	trainScorer(t, a, 100)
	require.True(t, a.Trained())

	normal := make([]float64, FeatureCount)
	for i := range normal {
		normal[i] = 10.5
	}
	outlier := make([]float64, FeatureCount)
	for i := range outlier {
		outlier[i] = 1000
	}

	normalScore := a.Score(normal)
	outlierScore := a.Score(outlier)

	assert.Less(t, normalScore, 0.2)
	assert.Greater(t, outlierScore, 0.5)
	assert.LessOrEqual(t, outlierScore, 1.0)
}

func TestScoreRejectsWrongDimension(t *testing.T) {
	a := NewAnomalyScorer("", 200, 50, zerolog.Nop())
	trainScorer(t, a, 60)
	assert.Equal(t, 0.0, a.Score([]float64{1, 2, 3}))
}

func TestSampleBufferBounded(t *testing.T) {
	a := NewAnomalyScorer("", 10, 5, zerolog.Nop())
	for i := 0; i < 25; i++ {
		a.Record(make([]float64, FeatureCount))
	}
	a.bufMu.Lock()
	defer a.bufMu.Unlock()
	assert.Len(t, a.buffer, 10)
}

func TestModelPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	a := NewAnomalyScorer(dir, 200, 50, zerolog.Nop())
	trainScorer(t, a, 100)
	trainedAt := a.LastTraining()

	outlier := make([]float64, FeatureCount)
	for i := range outlier {
		outlier[i] = 1000
	}
	want := a.Score(outlier)

	restored := NewAnomalyScorer(dir, 200, 50, zerolog.Nop())
	require.NoError(t, restored.Load())
	require.True(t, restored.Trained())
	assert.True(t, restored.LastTraining().Equal(trainedAt))
	assert.InDelta(t, want, restored.Score(outlier), 1e-9)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	a := NewAnomalyScorer(t.TempDir(), 0, 0, zerolog.Nop())
	require.NoError(t, a.Load())
	assert.False(t, a.Trained())
}
