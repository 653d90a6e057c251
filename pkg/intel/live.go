package intel

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentinelwatch/sentinelwatch/pkg/config"
	"github.com/sentinelwatch/sentinelwatch/pkg/event"
)

// LiveCorrelator keeps reputation lookups in step with the managed
// configuration. Whenever the config version changes it rebuilds the
// provider set and cache from the active snapshot, so provider URL,
// credentials, cache TTL, and lookup timeout apply without a restart.
// A rebuild drops the cache; verdicts are re-fetched under the new settings.
type LiveCorrelator struct {
	cfg    *config.Manager
	logger zerolog.Logger

	mu      sync.Mutex
	version uint64
	inner   *Correlator
}

// NewLiveCorrelator creates a correlator bound to the given manager. The
// first lookup builds the provider set from the current snapshot.
func NewLiveCorrelator(cfg *config.Manager, logger zerolog.Logger) *LiveCorrelator {
	return &LiveCorrelator{cfg: cfg, logger: logger}
}

// Lookup resolves one indicator through the correlator for the active
// configuration.
func (l *LiveCorrelator) Lookup(ctx context.Context, kind IndicatorKind, value string) (Result, bool) {
	return l.current().Lookup(ctx, kind, value)
}

// Score returns the maximum provider confidence across the event's
// indicators under the active configuration.
func (l *LiveCorrelator) Score(ctx context.Context, e event.Event) float64 {
	return l.current().Score(ctx, e)
}

func (l *LiveCorrelator) current() *Correlator {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v := l.cfg.Version(); l.inner == nil || v != l.version {
		snap := l.cfg.Snapshot()
		l.inner = NewCorrelator(
			providersFor(snap.Intel),
			snap.Intel.CacheSize,
			parseInterval(snap.Intel.CacheTTL, time.Hour),
			parseInterval(snap.Intel.LookupTimeout, 10*time.Second),
			l.logger,
		)
		l.version = v
		l.logger.Info().Uint64("config_version", v).Msg("Reputation providers rebuilt")
	}
	return l.inner
}

func providersFor(ic config.IntelConfig) []Provider {
	if ic.ProviderURL == "" {
		return []Provider{NoopProvider{}}
	}
	return []Provider{NewHTTPProvider(ic.ProviderURL, ic.APIKey)}
}

func parseInterval(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
