// Package pipeline is the central serialization point for alerts: it stamps,
// deduplicates, bounds, persists, and broadcasts every alert, and carries the
// rolling system-statistics history.
package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentinelwatch/sentinelwatch/pkg/alert"
	"github.com/sentinelwatch/sentinelwatch/pkg/metrics"
)

// Notifier delivers a published alert to an external sink. Failures are
// logged and never fail the publish.
type Notifier interface {
	Notify(a alert.Alert) error
}

// Options configures a Pipeline.
type Options struct {
	HistoryLimit int
	StatsLimit   int
	DedupWindow  time.Duration
	LogPath      string
	Notifiers    []Notifier
	Logger       zerolog.Logger
}

// Pipeline owns the bounded alert history and the durable alert log. Publish
// is safe for concurrent use from every collector.
type Pipeline struct {
	mu      sync.Mutex
	history []alert.Alert
	stats   []SystemStats
	logFile io.WriteCloser

	historyLimit int
	statsLimit   int

	dedup     *deduplicator
	hub       *broadcaster
	notifiers []Notifier
	logger    zerolog.Logger

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New creates a pipeline. The alert log file is opened for append; a failure
// to open it is returned to the caller since durable persistence is part of
// the publish contract.
func New(opts Options) (*Pipeline, error) {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 1000
	}
	if opts.StatsLimit <= 0 {
		opts.StatsLimit = 100
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = time.Minute
	}

	var logFile io.WriteCloser
	if opts.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating alert log directory: %w", err)
		}
		f, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening alert log: %w", err)
		}
		logFile = f
	}

	logger := opts.Logger.With().Str("component", "pipeline").Logger()
	p := &Pipeline{
		logFile:      logFile,
		historyLimit: opts.HistoryLimit,
		statsLimit:   opts.StatsLimit,
		dedup:        newDeduplicator(opts.DedupWindow),
		hub:          newBroadcaster(0, logger),
		notifiers:    opts.Notifiers,
		logger:       logger,
		stopSweep:    make(chan struct{}),
	}
	go p.sweepLoop(opts.DedupWindow / 2)
	return p, nil
}

// Publish stamps the alert, appends it to the bounded history, writes the
// durable log record, notifies external sinks, and broadcasts to
// subscribers. All of that happens before Publish returns. Duplicate alerts
// within the dedup window are dropped and reported as false.
func (p *Pipeline) Publish(a alert.Alert) bool {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Timestamp = time.Now()

	if p.dedup.isDuplicate(a.Type, string(a.Severity), a.Title, a.Message) {
		metrics.AlertsDeduped.Inc()
		p.logger.Debug().Str("title", a.Title).Msg("Duplicate alert suppressed")
		return false
	}

	p.mu.Lock()
	p.history = append(p.history, a)
	if len(p.history) > p.historyLimit {
		p.history = p.history[len(p.history)-p.historyLimit:]
	}
	if p.logFile != nil {
		if record, err := a.Encode(); err == nil {
			if _, err := p.logFile.Write(append(record, '\n')); err != nil {
				p.logger.Error().Err(err).Msg("Failed to write alert log record")
			}
		}
	}
	p.mu.Unlock()

	metrics.AlertsTotal.WithLabelValues(a.Type, string(a.Severity)).Inc()
	p.logger.Info().
		Str("alert_id", a.ID).
		Str("type", a.Type).
		Str("severity", string(a.Severity)).
		Str("title", a.Title).
		Msg(a.Message)

	for _, n := range p.notifiers {
		if err := n.Notify(a); err != nil {
			p.logger.Warn().Err(err).Str("alert_id", a.ID).Msg("Notifier failed")
		}
	}

	p.hub.publishAlert(a)
	return true
}

// HistoryFilter selects alerts from the bounded history.
type HistoryFilter struct {
	Severity alert.Severity
	Type     string
	Limit    int
}

// History returns the newest alerts matching the filter, newest first.
func (p *Pipeline) History(f HistoryFilter) []alert.Alert {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []alert.Alert
	for i := len(p.history) - 1; i >= 0; i-- {
		a := p.history[i]
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		out = append(out, a)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// HistoryLen returns the current history length.
func (p *Pipeline) HistoryLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history)
}

// RecordStats appends a stats sample to the bounded stats history and
// broadcasts it on the stats topic.
func (p *Pipeline) RecordStats(s SystemStats) {
	p.mu.Lock()
	p.stats = append(p.stats, s)
	if len(p.stats) > p.statsLimit {
		p.stats = p.stats[len(p.stats)-p.statsLimit:]
	}
	p.mu.Unlock()

	p.hub.publishStats(s)
}

// StatsSince returns stats samples newer than the cutoff (unix seconds).
func (p *Pipeline) StatsSince(cutoff int64) []SystemStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []SystemStats
	for _, s := range p.stats {
		if s.Timestamp >= cutoff {
			out = append(out, s)
		}
	}
	return out
}

// SubscribeAlerts registers a live subscriber for published alerts.
func (p *Pipeline) SubscribeAlerts() (<-chan alert.Alert, func()) {
	return p.hub.subscribeAlerts()
}

// SubscribeStats registers a live subscriber for stats snapshots; the most
// recent snapshot is replayed immediately.
func (p *Pipeline) SubscribeStats() (<-chan SystemStats, func()) {
	return p.hub.subscribeStats()
}

// Close stops the dedup sweeper and closes the alert log.
func (p *Pipeline) Close() error {
	p.sweepOnce.Do(func() { close(p.stopSweep) })
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.logFile != nil {
		return p.logFile.Close()
	}
	return nil
}

func (p *Pipeline) sweepLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.dedup.sweep()
		case <-p.stopSweep:
			return
		}
	}
}
