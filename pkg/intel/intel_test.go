package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelwatch/sentinelwatch/pkg/event"
)

func newTestCorrelator(providers ...Provider) *Correlator {
	return NewCorrelator(providers, 0, 0, 0, zerolog.Nop())
}

func TestStaticProviderLookup(t *testing.T) {
	p := NewStaticProvider()
	p.Add(KindIP, "203.0.113.9", 0.9)

	res, ok, err := p.Lookup(context.Background(), KindIP, "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.9, res.Confidence)

	_, ok, err = p.Lookup(context.Background(), KindIP, "198.51.100.1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorrelatorScoresMaxAcrossIndicators(t *testing.T) {
	p := NewStaticProvider()
	p.Add(KindIP, "203.0.113.9", 0.4)
	p.Add(KindDomain, "evil.example.com", 0.8)
	p.Add(KindHash, "abc123", 0.6)

	c := newTestCorrelator(p)
	score := c.Score(context.Background(), event.Event{
		DestinationIP: "203.0.113.9",
		Domain:        "evil.example.com",
		FileHash:      "abc123",
	})
	assert.Equal(t, 0.8, score)
}

func TestCorrelatorUnknownIndicatorsScoreZero(t *testing.T) {
	c := newTestCorrelator(NewStaticProvider())
	score := c.Score(context.Background(), event.Event{DestinationIP: "198.51.100.1"})
	assert.Equal(t, 0.0, score)
}

type countingProvider struct {
	inner Provider
	calls int
}

func (p *countingProvider) Lookup(ctx context.Context, kind IndicatorKind, value string) (Result, bool, error) {
	p.calls++
	return p.inner.Lookup(ctx, kind, value)
}

func TestLookupCachesVerdicts(t *testing.T) {
	static := NewStaticProvider()
	static.Add(KindIP, "203.0.113.9", 0.7)
	counting := &countingProvider{inner: static}
	c := newTestCorrelator(counting)

	for i := 0; i < 5; i++ {
		res, ok := c.Lookup(context.Background(), KindIP, "203.0.113.9")
		assert.True(t, ok)
		assert.Equal(t, 0.7, res.Confidence)
	}
	assert.Equal(t, 1, counting.calls)
}

func TestLookupCachesAbsentVerdicts(t *testing.T) {
	counting := &countingProvider{inner: NewStaticProvider()}
	c := newTestCorrelator(counting)

	for i := 0; i < 3; i++ {
		_, ok := c.Lookup(context.Background(), KindIP, "198.51.100.1")
		assert.False(t, ok)
	}
	assert.Equal(t, 1, counting.calls)
}

func TestEmptyIndicatorSkipsProviders(t *testing.T) {
	counting := &countingProvider{inner: NewStaticProvider()}
	c := newTestCorrelator(counting)

	_, ok := c.Lookup(context.Background(), KindDomain, "")
	assert.False(t, ok)
	assert.Equal(t, 0, counting.calls)
}

type erroringProvider struct{}

func (erroringProvider) Lookup(context.Context, IndicatorKind, string) (Result, bool, error) {
	return Result{}, false, fmt.Errorf("feed unavailable")
}

func TestProviderErrorDegradesToAbsent(t *testing.T) {
	static := NewStaticProvider()
	static.Add(KindIP, "203.0.113.9", 0.5)
	c := newTestCorrelator(erroringProvider{}, static)

	// The failing provider is skipped; the healthy one still answers.
	res, ok := c.Lookup(context.Background(), KindIP, "203.0.113.9")
	assert.True(t, ok)
	assert.Equal(t, 0.5, res.Confidence)
}

type slowProvider struct{ delay time.Duration }

func (p slowProvider) Lookup(ctx context.Context, kind IndicatorKind, value string) (Result, bool, error) {
	select {
	case <-time.After(p.delay):
		return Result{Confidence: 1.0}, true, nil
	case <-ctx.Done():
		return Result{}, false, ctx.Err()
	}
}

func TestSlowProviderTimesOut(t *testing.T) {
	c := NewCorrelator([]Provider{slowProvider{delay: time.Second}}, 0, 0, 10*time.Millisecond, zerolog.Nop())

	start := time.Now()
	_, ok := c.Lookup(context.Background(), KindIP, "203.0.113.9")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestHTTPProviderLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		switch r.URL.Path {
		case "/ip/203.0.113.9":
			json.NewEncoder(w).Encode(Result{Confidence: 0.85, Metadata: map[string]string{"source": "test"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "secret")

	res, ok, err := p.Lookup(context.Background(), KindIP, "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.85, res.Confidence)
	assert.Equal(t, "test", res.Metadata["source"])

	_, ok, err = p.Lookup(context.Background(), KindIP, "198.51.100.1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "")
	_, _, err := p.Lookup(context.Background(), KindIP, "203.0.113.9")
	assert.Error(t, err)
}
