package search

import "context"

// Result is a single hit from one search provider.
type Result struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
	PublishedAt string `json:"publishedAt,omitempty"`
}

// Options tune a provider query.
type Options struct {
	Count int
	// Freshness asks the provider to prefer recent results.
	Freshness bool
}

// Provider abstracts a search backend. Implementations may call official
// APIs or scrape result pages; the aggregator only relies on this contract.
type Provider interface {
	Name() string
	// Weight is this provider's base score contribution; 1.0 is neutral.
	Weight() float64
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}
