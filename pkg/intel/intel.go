// Package intel correlates events with external reputation sources. Lookups
// go through pluggable providers behind a TTL cache; failures and timeouts
// degrade to an absent result so the scoring path is never blocked.
package intel

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/sentinelwatch/sentinelwatch/pkg/event"
	"github.com/sentinelwatch/sentinelwatch/pkg/metrics"
)

// IndicatorKind identifies the IOC type being looked up.
type IndicatorKind string

const (
	KindIP     IndicatorKind = "ip"
	KindDomain IndicatorKind = "domain"
	KindHash   IndicatorKind = "hash"
)

// Result is a reputation verdict for an indicator. Confidence is in [0,1].
type Result struct {
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Provider answers reputation lookups. Lookup returns found=false when the
// source has no verdict for the indicator.
type Provider interface {
	Lookup(ctx context.Context, kind IndicatorKind, value string) (Result, bool, error)
}

type cacheKey struct {
	kind  IndicatorKind
	value string
}

type cacheEntry struct {
	result Result
	found  bool
}

// Correlator queries providers with a bounded timeout and caches verdicts.
type Correlator struct {
	providers []Provider
	cache     *expirable.LRU[cacheKey, cacheEntry]
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewCorrelator builds a correlator over the given providers. ttl defaults
// to one hour, size to 4096, timeout to ten seconds.
func NewCorrelator(providers []Provider, size int, ttl, timeout time.Duration, logger zerolog.Logger) *Correlator {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Correlator{
		providers: providers,
		cache:     expirable.NewLRU[cacheKey, cacheEntry](size, nil, ttl),
		timeout:   timeout,
		logger:    logger.With().Str("component", "intel_correlator").Logger(),
	}
}

// Lookup resolves one indicator, from cache when possible. A provider error
// or timeout yields an absent result rather than an error.
func (c *Correlator) Lookup(ctx context.Context, kind IndicatorKind, value string) (Result, bool) {
	if value == "" {
		return Result{}, false
	}
	key := cacheKey{kind: kind, value: value}
	if entry, ok := c.cache.Get(key); ok {
		metrics.IntelLookups.WithLabelValues("hit").Inc()
		return entry.result, entry.found
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	best := Result{}
	found := false
	for _, p := range c.providers {
		res, ok, err := p.Lookup(lookupCtx, kind, value)
		if err != nil {
			metrics.IntelLookups.WithLabelValues("error").Inc()
			c.logger.Warn().Err(err).
				Str("kind", string(kind)).
				Str("value", value).
				Msg("Reputation lookup failed, degrading to absent result")
			continue
		}
		if ok && res.Confidence > best.Confidence {
			best = res
			found = true
		}
	}
	metrics.IntelLookups.WithLabelValues("miss").Inc()

	c.cache.Add(key, cacheEntry{result: best, found: found})
	return best, found
}

// Score returns the maximum provider confidence across the event's
// indicators: source and destination IPs, domain, and file hash.
func (c *Correlator) Score(ctx context.Context, e event.Event) float64 {
	var score float64
	for _, ip := range []string{e.SourceIP, e.DestinationIP} {
		if res, ok := c.Lookup(ctx, KindIP, ip); ok && res.Confidence > score {
			score = res.Confidence
		}
	}
	if res, ok := c.Lookup(ctx, KindDomain, e.Domain); ok && res.Confidence > score {
		score = res.Confidence
	}
	if res, ok := c.Lookup(ctx, KindHash, e.FileHash); ok && res.Confidence > score {
		score = res.Confidence
	}
	return score
}
