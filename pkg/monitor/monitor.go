// Package monitor drives the detection pipeline: it schedules the polling
// collectors, routes their raw alerts through the engine for scoring, and
// samples host statistics.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentinelwatch/sentinelwatch/pkg/alert"
	"github.com/sentinelwatch/sentinelwatch/pkg/collectors"
	"github.com/sentinelwatch/sentinelwatch/pkg/config"
	"github.com/sentinelwatch/sentinelwatch/pkg/engine"
	"github.com/sentinelwatch/sentinelwatch/pkg/event"
	"github.com/sentinelwatch/sentinelwatch/pkg/pipeline"
)

// StatsSampler produces one host statistics snapshot per cycle.
type StatsSampler interface {
	Sample() (pipeline.SystemStats, error)
}

// Runner owns the collector schedules. Each collector runs on its own
// goroutine with its own ticker; all of them feed the same pipeline entry
// point, which is safe for concurrent callers.
type Runner struct {
	engine   *engine.Engine
	pipeline *pipeline.Pipeline
	sampler  StatsSampler
	cfg      *config.Manager
	logger   zerolog.Logger

	mu         sync.Mutex
	collectors []scheduled
	wg         sync.WaitGroup
}

type scheduled struct {
	collector collectors.Collector
	interval  time.Duration
}

// NewRunner creates a runner over the given engine and pipeline. When cfg is
// non-nil, the loops re-read the polling interval from it each cycle so an
// applied config update reschedules them without a restart.
func NewRunner(eng *engine.Engine, pipe *pipeline.Pipeline, sampler StatsSampler, cfg *config.Manager, logger zerolog.Logger) *Runner {
	return &Runner{
		engine:   eng,
		pipeline: pipe,
		sampler:  sampler,
		cfg:      cfg,
		logger:   logger.With().Str("component", "monitor").Logger(),
	}
}

// Register adds a polling collector with its interval.
func (r *Runner) Register(c collectors.Collector, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors = append(r.collectors, scheduled{collector: c, interval: interval})
	r.logger.Info().Str("collector", c.Name()).Dur("interval", interval).Msg("Collector registered")
}

// Start launches one goroutine per registered collector plus the stats
// sampler. Each loop checks the context at the top of every iteration and
// exits within one interval of cancellation.
func (r *Runner) Start(ctx context.Context, statsInterval time.Duration) {
	r.mu.Lock()
	scheduledCollectors := append([]scheduled(nil), r.collectors...)
	r.mu.Unlock()

	for _, s := range scheduledCollectors {
		r.wg.Add(1)
		go func(s scheduled) {
			defer r.wg.Done()
			r.runCollector(ctx, s)
		}(s)
	}

	if r.sampler != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.runStatsSampler(ctx, statsInterval)
		}()
	}
}

// Wait blocks until all collector loops have exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// HandleAlert scores a raw alert candidate and publishes it. It is the
// single entry point used by both the polling loops and the file collector
// callback.
func (r *Runner) HandleAlert(ctx context.Context, a alert.Alert) {
	score := r.engine.Analyze(ctx, eventFromAlert(a))
	a.Score = &score
	r.pipeline.Publish(a)
}

func (r *Runner) runCollector(ctx context.Context, s scheduled) {
	r.collectOnce(ctx, s.collector)

	interval := r.pollInterval(s.interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Str("collector", s.collector.Name()).Msg("Collector stopped")
			return
		case <-ticker.C:
			r.collectOnce(ctx, s.collector)
			if next := r.pollInterval(s.interval); next != interval {
				r.logger.Info().
					Str("collector", s.collector.Name()).
					Dur("interval", next).
					Msg("Collector rescheduled")
				interval = next
				ticker.Reset(next)
			}
		}
	}
}

// pollInterval resolves the polling interval from the active configuration,
// falling back to the registered one when no manager is wired or the value
// does not parse.
func (r *Runner) pollInterval(fallback time.Duration) time.Duration {
	if r.cfg == nil {
		return fallback
	}
	d, err := time.ParseDuration(r.cfg.Snapshot().Monitoring.Interval)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (r *Runner) collectOnce(ctx context.Context, c collectors.Collector) {
	raw, err := c.Collect(ctx)
	if err != nil {
		// Collect errors are context cancellations; systemic failures come
		// back as alerts.
		return
	}
	for _, a := range raw {
		r.HandleAlert(ctx, a)
	}
}

func (r *Runner) runStatsSampler(ctx context.Context, fallback time.Duration) {
	if fallback <= 0 {
		fallback = 30 * time.Second
	}
	r.sampleOnce()

	interval := r.pollInterval(fallback)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sampleOnce()
			if next := r.pollInterval(fallback); next != interval {
				interval = next
				ticker.Reset(next)
			}
		}
	}
}

func (r *Runner) sampleOnce() {
	stats, err := r.sampler.Sample()
	if err != nil {
		r.logger.Warn().Err(err).Msg("Stats sampling failed")
		return
	}
	r.pipeline.RecordStats(stats)
}

// eventFromAlert projects an alert candidate onto the analysis event shape.
func eventFromAlert(a alert.Alert) event.Event {
	e := event.Event{
		Category:  a.Type,
		Severity:  string(a.Severity),
		Timestamp: time.Now(),
		Message:   a.Message,
	}
	for k, v := range a.Context {
		switch k {
		case "process_name":
			e.ProcessName, _ = v.(string)
		case "cmdline":
			e.CommandLine, _ = v.(string)
		case "file_path":
			e.FilePath, _ = v.(string)
		case "file_hash":
			e.FileHash, _ = v.(string)
		case "remote_address":
			e.DestinationIP, _ = v.(string)
		case "remote_port":
			if p, ok := v.(int); ok {
				e.DestinationPort = p
			}
		case "local_port":
			if p, ok := v.(int); ok {
				e.SourcePort = p
			}
		case "user_name":
			e.UserName, _ = v.(string)
		case "bytes_sent":
			if b, ok := v.(uint64); ok {
				e.BytesTransferred = int64(b)
			}
		}
	}
	return e
}
