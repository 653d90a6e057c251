// Package metrics exposes the agent's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlertsTotal counts alerts published through the pipeline.
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinelwatch_alerts_total",
		Help: "Alerts published, by type and severity.",
	}, []string{"type", "severity"})

	// AlertsDeduped counts alerts suppressed by the pipeline deduplicator.
	AlertsDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinelwatch_alerts_deduplicated_total",
		Help: "Alerts suppressed as duplicates within the dedup window.",
	})

	// EventsAnalyzed counts events scored by the detection engine.
	EventsAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinelwatch_events_analyzed_total",
		Help: "Events run through feature extraction and score fusion.",
	})

	// ModelRetrains counts anomaly model training runs.
	ModelRetrains = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinelwatch_model_retrains_total",
		Help: "Anomaly model retraining runs completed.",
	})

	// IntelLookups counts reputation lookups by cache outcome.
	IntelLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinelwatch_intel_lookups_total",
		Help: "Reputation lookups, by cache outcome (hit, miss, error).",
	}, []string{"outcome"})

	// CollectorErrors counts systemic collector failures.
	CollectorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinelwatch_collector_errors_total",
		Help: "Systemic collection failures, by collector.",
	}, []string{"collector"})
)
