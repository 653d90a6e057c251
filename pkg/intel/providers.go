package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// NoopProvider never returns a verdict. It is composed in when no reputation
// backend is configured, keeping the correlator path uniform.
type NoopProvider struct{}

func (NoopProvider) Lookup(ctx context.Context, kind IndicatorKind, value string) (Result, bool, error) {
	return Result{}, false, nil
}

// StaticProvider serves verdicts from an in-memory indicator table. Useful
// for locally curated blocklists and for tests.
type StaticProvider struct {
	indicators map[cacheKey]Result
}

// NewStaticProvider creates an empty static provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{indicators: make(map[cacheKey]Result)}
}

// Add registers an indicator with the given confidence.
func (p *StaticProvider) Add(kind IndicatorKind, value string, confidence float64) {
	p.indicators[cacheKey{kind: kind, value: value}] = Result{Confidence: confidence}
}

func (p *StaticProvider) Lookup(ctx context.Context, kind IndicatorKind, value string) (Result, bool, error) {
	res, ok := p.indicators[cacheKey{kind: kind, value: value}]
	return res, ok, nil
}

// HTTPProvider queries a generic JSON reputation endpoint:
// GET {base}/{kind}/{value} returning {"confidence": float, "metadata": {...}}.
// A 404 means no verdict. The endpoint shape is ours; adapters for specific
// SaaS feeds live behind their own Provider implementations.
type HTTPProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPProvider creates a provider for the given base URL. The key is sent
// as an X-API-Key header when non-empty.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{BaseURL: baseURL, APIKey: apiKey}
}

func (p *HTTPProvider) Lookup(ctx context.Context, kind IndicatorKind, value string) (Result, bool, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", p.BaseURL, kind, url.PathEscape(value))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, false, err
	}
	if p.APIKey != "" {
		req.Header.Set("X-API-Key", p.APIKey)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var res Result
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return Result{}, false, fmt.Errorf("decoding reputation response: %w", err)
		}
		return res, true, nil
	case http.StatusNotFound:
		return Result{}, false, nil
	default:
		return Result{}, false, fmt.Errorf("reputation endpoint returned %s", resp.Status)
	}
}
