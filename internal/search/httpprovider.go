package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPProviderConfig configures a JSON search API client.
type HTTPProviderConfig struct {
	// Name identifies the provider in logs and metrics.
	Name string
	// Endpoint is the search URL; the query is sent as ?q=...&count=...
	Endpoint string
	// APIKey, when set, is sent in the header named by APIKeyHeader.
	APIKey       string
	APIKeyHeader string
	Weight       float64
	Timeout      time.Duration
}

// HTTPProvider queries a JSON-over-HTTP search API. The expected response
// shape is the lowest common denominator of hosted search APIs:
//
//	{"results": [{"title": ..., "url": ..., "snippet": ..., "published": ...}]}
type HTTPProvider struct {
	cfg    HTTPProviderConfig
	client *http.Client
}

// NewHTTPProvider creates a provider client from the given config.
func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("provider %q: endpoint is required", cfg.Name)
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	if cfg.Weight <= 0 {
		cfg.Weight = 1.0
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (p *HTTPProvider) Name() string    { return p.cfg.Name }
func (p *HTTPProvider) Weight() float64 { return p.cfg.Weight }

// Search queries the provider endpoint.
func (p *HTTPProvider) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	u, err := url.Parse(p.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("provider %s: parse endpoint: %w", p.cfg.Name, err)
	}

	q := u.Query()
	q.Set("q", query)
	if opts.Count > 0 {
		q.Set("count", strconv.Itoa(opts.Count))
	}
	if opts.Freshness {
		q.Set("freshness", "month")
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("provider %s: create request: %w", p.cfg.Name, err)
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set(p.cfg.APIKeyHeader, p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider %s: http status %d", p.cfg.Name, resp.StatusCode)
	}

	var payload struct {
		Results []struct {
			Title     string `json:"title"`
			URL       string `json:"url"`
			Snippet   string `json:"snippet"`
			Published string `json:"published"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("provider %s: decode response: %w", p.cfg.Name, err)
	}

	results := make([]Result, 0, len(payload.Results))
	for _, r := range payload.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, Result{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Snippet,
			PublishedAt: r.Published,
		})
	}
	return results, nil
}
