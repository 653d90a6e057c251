package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentinelwatch/sentinelwatch/pkg/alert"
	"github.com/sentinelwatch/sentinelwatch/pkg/event"
	"github.com/sentinelwatch/sentinelwatch/pkg/metrics"
)

// IntelligenceScorer supplies the reputation sub-score for an event. The
// intel correlator satisfies this; a nil scorer contributes 0.
type IntelligenceScorer interface {
	Score(ctx context.Context, e event.Event) float64
}

// Options configures an Engine.
type Options struct {
	ModelsPath   string
	SampleBuffer int
	MinSamples   int
	MaxBaselines int
	EventLogSize int
	Intel        IntelligenceScorer
	Logger       zerolog.Logger
}

// Engine runs an event through feature extraction, the behavioral baseline,
// the anomaly model, pattern matching, and intelligence correlation, and
// fuses the sub-scores into a ThreatScore.
type Engine struct {
	baselines *BaselineTracker
	anomaly   *AnomalyScorer
	intel     IntelligenceScorer
	events    *eventLog
	analyzed  atomic.Int64
	logger    zerolog.Logger
}

// Statistics is a point-in-time snapshot of engine state for the API.
type Statistics struct {
	ModelTrained   bool      `json:"model_trained"`
	LastTraining   time.Time `json:"last_training,omitzero"`
	EventsAnalyzed int64     `json:"events_analyzed"`
	BaselineCount  int       `json:"behavioral_patterns"`
}

// New builds an engine and attempts to restore a persisted anomaly model.
func New(opts Options) *Engine {
	e := &Engine{
		baselines: NewBaselineTracker(opts.MaxBaselines),
		anomaly:   NewAnomalyScorer(opts.ModelsPath, opts.SampleBuffer, opts.MinSamples, opts.Logger),
		intel:     opts.Intel,
		events:    newEventLog(opts.EventLogSize),
		logger:    opts.Logger.With().Str("component", "engine").Logger(),
	}
	if err := e.anomaly.Load(); err != nil {
		e.logger.Warn().Err(err).Msg("Could not load persisted anomaly model, starting untrained")
	}
	return e
}

// Analyze scores one event. It never returns an error: every fallible
// sub-score degrades to 0 on failure.
func (e *Engine) Analyze(ctx context.Context, ev event.Event) alert.ThreatScore {
	now := time.Now()

	features := extractFeatures(ev, e.events, now)

	entityID, entityType := ev.Entity()
	patternType := ev.Category
	if patternType == "" {
		patternType = "general"
	}
	behavioral := e.baselines.Observe(entityID, entityType, patternType, features, now)

	anomaly := e.anomaly.Score(features)

	var intelligence float64
	if e.intel != nil {
		intelligence = e.intel.Score(ctx, ev)
	}

	pattern := matchPatterns(ev, e.events, now)

	// Record after matching so the current event does not count itself in
	// trailing-window lookups.
	e.events.add(ev, now)
	e.anomaly.Record(features)
	e.analyzed.Add(1)
	metrics.EventsAnalyzed.Inc()

	return fuse(ev, behavioral, anomaly, intelligence, pattern, e.anomaly.Trained())
}

// StartRetraining launches the background retrain task. It returns
// immediately; the task stops when the context is cancelled.
func (e *Engine) StartRetraining(ctx context.Context, interval time.Duration) {
	go e.anomaly.RunRetrainLoop(ctx, interval)
}

// Stats returns a snapshot of engine state.
func (e *Engine) Stats() Statistics {
	return Statistics{
		ModelTrained:   e.anomaly.Trained(),
		LastTraining:   e.anomaly.LastTraining(),
		EventsAnalyzed: e.analyzed.Load(),
		BaselineCount:  e.baselines.Len(),
	}
}
