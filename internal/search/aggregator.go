package search

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/delverhq/delver/internal/metrics"
)

// AggregatedResult is a deduplicated, scored search hit.
type AggregatedResult struct {
	Result
	Provider       string  `json:"provider"`
	NormalizedURL  string  `json:"normalizedUrl"`
	RelevanceScore float64 `json:"relevanceScore"`
}

// ErrAllProvidersFailed is returned when no provider produced results due to
// errors. Single-provider failures are absorbed and logged.
var ErrAllProvidersFailed = errors.New("all search providers failed")

// authorityDomains is a fixed allow-list of high-trust domains that earn a
// scoring bonus. Matching is by registrable suffix.
var authorityDomains = []string{
	"wikipedia.org",
	"britannica.com",
	"reuters.com",
	"apnews.com",
	"bbc.com",
	"nytimes.com",
	"wsj.com",
	"ft.com",
	"economist.com",
	"bloomberg.com",
	"nature.com",
	"science.org",
	"arxiv.org",
	"ieee.org",
	"acm.org",
	"nih.gov",
	"sec.gov",
}

// Aggregator fans a query out to every registered provider, deduplicates by
// normalized URL, scores, and ranks.
type Aggregator struct {
	providers []Provider
	logger    *slog.Logger
}

// NewAggregator creates an aggregator over the given providers. Provider
// order matters: it is the stable tie-break for equal scores.
func NewAggregator(providers []Provider, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{providers: providers, logger: logger}
}

// Search queries all providers concurrently and returns up to opts.Count
// results ranked by descending relevance score. The options are passed to
// every provider unchanged. It fails only when every provider fails.
func (a *Aggregator) Search(ctx context.Context, query string, opts Options) ([]AggregatedResult, error) {
	if len(a.providers) == 0 {
		return nil, ErrAllProvidersFailed
	}

	perProvider := make([][]Result, len(a.providers))
	var failures int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, p := range a.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			results, err := p.Search(ctx, query, opts)
			if err != nil {
				a.logger.Warn("search provider failed", "provider", p.Name(), "err", err)
				metrics.SearchProviderErrors.WithLabelValues(p.Name()).Inc()
				mu.Lock()
				failures++
				mu.Unlock()
				return
			}
			mu.Lock()
			perProvider[i] = results
			mu.Unlock()
		}(i, p)
	}
	wg.Wait()

	if failures == len(a.providers) {
		return nil, ErrAllProvidersFailed
	}

	merged := a.dedupe(perProvider)

	for i := range merged {
		merged[i].RelevanceScore = scoreResult(&merged[i], query, a.weightOf(merged[i].Provider))
	}

	// Stable sort keeps original provider order on ties.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].RelevanceScore > merged[j].RelevanceScore
	})

	if opts.Count > 0 && len(merged) > opts.Count {
		merged = merged[:opts.Count]
	}
	return merged, nil
}

func (a *Aggregator) weightOf(name string) float64 {
	for _, p := range a.providers {
		if p.Name() == name {
			if w := p.Weight(); w > 0 {
				return w
			}
			return 1.0
		}
	}
	return 1.0
}

// dedupe keeps one result per normalized URL, preferring the hit from the
// higher-weighted provider and breaking ties by longer snippet.
func (a *Aggregator) dedupe(perProvider [][]Result) []AggregatedResult {
	type keep struct {
		idx    int
		weight float64
	}

	var merged []AggregatedResult
	seen := make(map[string]keep)

	for i, results := range perProvider {
		provider := a.providers[i]
		weight := provider.Weight()
		if weight <= 0 {
			weight = 1.0
		}

		for _, r := range results {
			norm := NormalizeURL(r.URL)
			if norm == "" {
				continue
			}

			prev, exists := seen[norm]
			if !exists {
				seen[norm] = keep{idx: len(merged), weight: weight}
				merged = append(merged, AggregatedResult{
					Result:        r,
					Provider:      provider.Name(),
					NormalizedURL: norm,
				})
				continue
			}

			better := weight > prev.weight ||
				(weight == prev.weight && len(r.Snippet) > len(merged[prev.idx].Snippet))
			if better {
				merged[prev.idx] = AggregatedResult{
					Result:        r,
					Provider:      provider.Name(),
					NormalizedURL: norm,
				}
				seen[norm] = keep{idx: prev.idx, weight: weight}
			}
		}
	}
	return merged
}

// NormalizeURL canonicalizes a URL for deduplication: lowercase, scheme and
// www. prefix stripped, query string and fragment dropped, trailing slash
// trimmed. The function is idempotent.
func NormalizeURL(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, "/")
}

// scoreResult computes the additive relevance score for one result.
func scoreResult(r *AggregatedResult, query string, providerWeight float64) float64 {
	score := providerWeight

	lowerQuery := strings.ToLower(strings.TrimSpace(query))
	lowerTitle := strings.ToLower(r.Title)
	lowerSnippet := strings.ToLower(r.Snippet)

	if lowerQuery != "" && strings.Contains(lowerTitle, lowerQuery) {
		score += 0.5
	}

	for _, term := range queryTerms(lowerQuery) {
		if strings.Contains(lowerTitle, term) {
			score += 0.3
		}
		if strings.Contains(lowerSnippet, term) {
			score += 0.1
		}
	}

	switch days := ageInDays(r.PublishedAt); {
	case days < 0:
		// Unparsable ages are treated as old.
	case days < 7:
		score += 0.3
	case days < 30:
		score += 0.2
	case days < 90:
		score += 0.1
	}

	if isAuthorityDomain(r.NormalizedURL) {
		score += 0.2
	}

	return math.Round(score*100) / 100
}

// queryTerms returns the distinct lowercased query terms longer than two
// characters, in order of first appearance.
func queryTerms(lowerQuery string) []string {
	var terms []string
	seen := make(map[string]struct{})
	for _, t := range strings.Fields(lowerQuery) {
		t = strings.Trim(t, `"',.!?()`)
		if len(t) <= 2 {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms
}

func isAuthorityDomain(normalizedURL string) bool {
	host := normalizedURL
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	for _, d := range authorityDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
