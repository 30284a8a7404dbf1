package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/delverhq/delver/internal/extract"
	"github.com/delverhq/delver/internal/metrics"
)

// CrawledPage is a fetched URL reduced to normalized text and metadata,
// ready for relevance filtering.
type CrawledPage struct {
	URL      string           `json:"url"`
	Title    string           `json:"title"`
	Content  string           `json:"content"`
	Metadata extract.Metadata `json:"metadata"`
}

// Config configures the crawler.
type Config struct {
	Fetch FetchConfig
	// RespectRobots gates fetches on the target's robots.txt.
	RespectRobots bool
	// RobotsAgent is the agent name matched against robots.txt groups.
	RobotsAgent string
}

// Crawler fetches individual URLs and extracts their content. Failures are
// per-page: the orchestrator logs and skips, never fails the job on one URL.
type Crawler struct {
	cfg     Config
	fetcher *Fetcher
	auditor *robotsAuditor
	logger  *slog.Logger
}

// New creates a Crawler.
func New(cfg Config, logger *slog.Logger) (*Crawler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RobotsAgent == "" {
		cfg.RobotsAgent = "DelverResearch"
	}

	fetcher, err := NewFetcher(cfg.Fetch)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}

	c := &Crawler{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger,
	}
	if cfg.RespectRobots {
		c.auditor = newRobotsAuditor(fetcher, logger)
	}
	return c, nil
}

// Fetch retrieves one URL and extracts its content. Transport errors, HTTP
// error statuses, robots denials, and bot-challenge pages all return an
// error.
func (c *Crawler) Fetch(ctx context.Context, targetURL string) (*CrawledPage, error) {
	if c.auditor != nil {
		allowed, err := c.auditor.isAllowed(ctx, targetURL, c.cfg.RobotsAgent)
		if err != nil {
			// Fail open on robots.txt errors; the fetch itself still decides.
			c.logger.Warn("robots.txt check failed", "url", targetURL, "err", err)
		} else if !allowed {
			metrics.CrawlFetchesTotal.WithLabelValues("robots_denied").Inc()
			return nil, fmt.Errorf("fetch %s: disallowed by robots.txt", targetURL)
		}
	}

	res, err := c.fetcher.fetch(ctx, targetURL)
	if err != nil {
		metrics.CrawlFetchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if src := challengeSource(res); src != "" {
		metrics.CrawlFetchesTotal.WithLabelValues("challenged").Inc()
		return nil, fmt.Errorf("fetch %s: blocked by %s challenge", targetURL, src)
	}

	if res.StatusCode >= http.StatusBadRequest {
		metrics.CrawlFetchesTotal.WithLabelValues("http_error").Inc()
		return nil, fmt.Errorf("fetch %s: http status %d", targetURL, res.StatusCode)
	}

	doc := extract.Parse(res.Body)
	metrics.CrawlFetchesTotal.WithLabelValues("ok").Inc()

	c.logger.Debug("crawled page",
		"url", targetURL,
		"status", res.StatusCode,
		"bytes", len(res.Body),
		"duration", res.Duration,
	)

	return &CrawledPage{
		URL:      targetURL,
		Title:    doc.Title,
		Content:  doc.Text,
		Metadata: doc.Metadata,
	}, nil
}
