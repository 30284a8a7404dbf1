// Package pipeline drives the four-phase research state machine for one job:
// Search, Crawl, Analyze, Generate. Phases run strictly in order, progress
// only moves forward, and cancellation is honored at phase boundaries only.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/delverhq/delver/internal/analyzer"
	"github.com/delverhq/delver/internal/crawler"
	"github.com/delverhq/delver/internal/entity"
	"github.com/delverhq/delver/internal/job"
	"github.com/delverhq/delver/internal/metrics"
	"github.com/delverhq/delver/internal/report"
	"github.com/delverhq/delver/internal/search"
	"github.com/delverhq/delver/internal/storage"
	"github.com/delverhq/delver/internal/template"
)

// Progress band boundaries per phase.
const (
	progressSearchDone   = 30
	progressCrawlDone    = 60
	progressFilterDone   = 75
	progressEntitiesDone = 85
)

// minContentLength is the strict lower bound on extracted text length for a
// page to reach relevance assessment.
const minContentLength = 100

// relevanceThreshold is the strict lower bound on the analyzer's score for a
// page to count as relevant. The analyzer must also mark it relevant.
const relevanceThreshold = 0.5

// Config tunes the orchestrator.
type Config struct {
	// CrawlConcurrency bounds parallel page fetches within one job.
	CrawlConcurrency int
}

// Orchestrator runs research jobs end to end.
type Orchestrator struct {
	aggregator *search.Aggregator
	crawler    *crawler.Crawler
	analyzer   analyzer.TextAnalyzer
	entities   entity.Extractor
	templates  *template.Registry
	store      storage.Store
	logger     *slog.Logger
	crawlConc  int
}

// New creates an Orchestrator. The entity extractor defaults to the regex
// implementation and the store to in-memory when nil.
func New(agg *search.Aggregator, cr *crawler.Crawler, an analyzer.TextAnalyzer, reg *template.Registry, store storage.Store, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = storage.NewMemory()
	}
	if cfg.CrawlConcurrency <= 0 {
		cfg.CrawlConcurrency = 3
	}
	return &Orchestrator{
		aggregator: agg,
		crawler:    cr,
		analyzer:   an,
		entities:   entity.NewRegexExtractor(),
		templates:  reg,
		store:      store,
		logger:     logger,
		crawlConc:  cfg.CrawlConcurrency,
	}
}

// SetEntityExtractor swaps the heuristic entity extractor.
func (o *Orchestrator) SetEntityExtractor(e entity.Extractor) {
	if e != nil {
		o.entities = e
	}
}

// relevantPage pairs a crawled page with its relevance assessment and the
// search result it came from.
type relevantPage struct {
	page   *crawler.CrawledPage
	result search.AggregatedResult
	rel    *analyzer.Relevance
}

// checkpointState is the opaque blob persisted with each checkpoint. The
// final checkpoint carries the full report for later retrieval.
type checkpointState struct {
	Searched int            `json:"searched"`
	Crawled  int            `json:"crawled"`
	Relevant int            `json:"relevant"`
	Report   *report.Report `json:"report,omitempty"`
}

// Run executes all four phases for the job. It returns nil on completion,
// job.ErrCancelled when the job was cancelled at a phase boundary, a
// transient-wrapped error when a retry could help, and a plain error for
// permanent failures. Permanent failures and cancellation mark the job
// Failed; transient errors leave that to the caller's retry policy.
func (o *Orchestrator) Run(ctx context.Context, j *job.ResearchJob) error {
	log := o.logger.With("job_id", j.ID(), "query", j.Query())

	tpl, err := o.templates.Get(j.TemplateID())
	if err != nil {
		j.Fail(err.Error())
		return err
	}

	// Phase 1: Search.
	if o.cancelled(ctx, j) {
		return o.cancel(j)
	}
	results, err := o.runSearch(ctx, j, tpl, log)
	if err != nil {
		return o.finish(j, err)
	}
	o.checkpoint(ctx, j, "search", &checkpointState{Searched: len(results)})

	// Phase 2: Crawl.
	if o.cancelled(ctx, j) {
		return o.cancel(j)
	}
	pages := o.runCrawl(ctx, j, results, log)
	o.checkpoint(ctx, j, "crawl", &checkpointState{Searched: len(results), Crawled: len(pages)})

	// Phase 3: Analyze.
	if o.cancelled(ctx, j) {
		return o.cancel(j)
	}
	relevant, entities, warnings, err := o.runAnalyze(ctx, j, pages, results, log)
	if err != nil {
		return o.finish(j, err)
	}
	o.checkpoint(ctx, j, "analyze", &checkpointState{
		Searched: len(results), Crawled: len(pages), Relevant: len(relevant),
	})

	// Phase 4: Generate.
	if o.cancelled(ctx, j) {
		return o.cancel(j)
	}
	rep, err := o.runGenerate(ctx, j, tpl, relevant, entities, warnings, len(results), len(pages), log)
	if err != nil {
		return o.finish(j, err)
	}

	o.checkpoint(ctx, j, "generate", &checkpointState{
		Searched: len(results), Crawled: len(pages), Relevant: len(relevant), Report: rep,
	})
	j.Complete()
	log.Info("job completed", "sources", rep.Sources, "sections", len(rep.Sections))
	return nil
}

// runSearch expands the template's query patterns and aggregates results
// across them, deduplicating by normalized URL. Progress walks 0 to 30 as
// queries finish.
func (o *Orchestrator) runSearch(ctx context.Context, j *job.ResearchJob, tpl *template.Template, log *slog.Logger) ([]search.AggregatedResult, error) {
	start := time.Now()
	j.SetStatus(job.StatusSearching)

	opts := j.Options()
	queries := tpl.ExpandQueries(j.Query())

	seen := make(map[string]int)
	var merged []search.AggregatedResult
	var lastErr error

	for i, q := range queries {
		results, err := o.aggregator.Search(ctx, q, search.Options{
			Count:     opts.MaxSources,
			Freshness: opts.IncludeRecent,
		})
		if err != nil {
			lastErr = err
			log.Warn("search query failed", "expanded_query", q, "error", err)
		}
		for _, r := range results {
			if idx, dup := seen[r.NormalizedURL]; dup {
				if r.RelevanceScore > merged[idx].RelevanceScore {
					merged[idx] = r
				}
				continue
			}
			seen[r.NormalizedURL] = len(merged)
			merged = append(merged, r)
		}
		j.SetProgress(progressSearchDone * (i + 1) / len(queries))
	}

	if len(merged) == 0 {
		if lastErr != nil {
			// Providers were unreachable; a retry could succeed.
			return nil, job.Transient(fmt.Errorf("search: %w", lastErr))
		}
		return nil, errors.New(job.ReasonNoSearchResults)
	}

	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].RelevanceScore > merged[b].RelevanceScore
	})
	j.SetProgress(progressSearchDone)
	metrics.ObservePhase("search", start)
	log.Info("search done", "queries", len(queries), "results", len(merged))
	return merged, nil
}

// runCrawl fetches the top results up to the job's source budget. Fetches
// run in parallel up to the configured bound; each failure is isolated to
// its page. Progress walks 30 to 60 as fetches finish.
func (o *Orchestrator) runCrawl(ctx context.Context, j *job.ResearchJob, results []search.AggregatedResult, log *slog.Logger) map[string]*crawler.CrawledPage {
	start := time.Now()
	j.SetStatus(job.StatusCrawling)

	targets := results
	if max := j.Options().MaxSources; max > 0 && len(targets) > max {
		targets = targets[:max]
	}

	var (
		mu    sync.Mutex
		pages = make(map[string]*crawler.CrawledPage, len(targets))
		done  int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.crawlConc)
	for _, target := range targets {
		g.Go(func() error {
			page, err := o.crawler.Fetch(gctx, target.URL)

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				log.Warn("crawl failed", "url", target.URL, "error", err)
			} else {
				pages[target.NormalizedURL] = page
			}
			j.SetProgress(progressSearchDone + (progressCrawlDone-progressSearchDone)*done/len(targets))
			return nil
		})
	}
	g.Wait()

	j.SetProgress(progressCrawlDone)
	metrics.ObservePhase("crawl", start)
	log.Info("crawl done", "attempted", len(targets), "fetched", len(pages))
	return pages
}

// runAnalyze gates pages on content length, assesses relevance per page, and
// extracts entities once over the combined relevant text. Progress reaches 75
// after filtering and 85 after entities.
func (o *Orchestrator) runAnalyze(ctx context.Context, j *job.ResearchJob, pages map[string]*crawler.CrawledPage, results []search.AggregatedResult, log *slog.Logger) ([]relevantPage, []entity.Entity, []string, error) {
	start := time.Now()
	j.SetStatus(job.StatusAnalyzing)

	var relevant []relevantPage
	var warnings []string

	for _, res := range results {
		page, ok := pages[res.NormalizedURL]
		if !ok {
			continue
		}
		if len(page.Content) <= minContentLength {
			log.Debug("content too short", "url", page.URL, "length", len(page.Content))
			continue
		}

		rel, err := o.analyzer.AssessRelevance(ctx, page.Content, j.Query())
		if err != nil {
			if errors.Is(err, analyzer.ErrMalformedOutput) {
				// A bad response for one page costs that page only.
				log.Warn("relevance response malformed", "url", page.URL, "error", err)
				warnings = append(warnings, fmt.Sprintf("relevance assessment failed for %s", page.URL))
				continue
			}
			return nil, nil, nil, job.Transient(fmt.Errorf("assessing relevance of %s: %w", page.URL, err))
		}
		if rel.Relevant && rel.Score > relevanceThreshold {
			relevant = append(relevant, relevantPage{page: page, result: res, rel: rel})
		} else {
			log.Debug("page filtered", "url", page.URL, "score", rel.Score, "reason", rel.Reason)
		}
	}
	j.SetProgress(progressFilterDone)

	entities := o.extractEntities(ctx, relevant, &warnings, log)
	j.SetProgress(progressEntitiesDone)

	metrics.ObservePhase("analyze", start)
	log.Info("analyze done", "crawled", len(pages), "relevant", len(relevant), "entities", len(entities))
	return relevant, entities, warnings, nil
}

// extractEntities runs the heuristic extractor and the analyzer's entity
// capability over the combined relevant text, merging both views. The two
// are complementary; the heuristic result wins on conflicts because it
// carries mention counts and context.
func (o *Orchestrator) extractEntities(ctx context.Context, relevant []relevantPage, warnings *[]string, log *slog.Logger) []entity.Entity {
	if len(relevant) == 0 {
		return nil
	}

	var combined strings.Builder
	for _, rp := range relevant {
		combined.WriteString(rp.page.Content)
		combined.WriteString("\n\n")
	}
	text := combined.String()

	entities := o.entities.Extract(text)
	known := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		known[strings.ToLower(e.Name)] = struct{}{}
	}

	modelEnts, err := o.analyzer.ExtractEntities(ctx, text)
	if err != nil {
		// Entity enrichment is metadata; its failure never fails the job,
		// but it is surfaced in the report.
		log.Warn("analyzer entity extraction failed", "error", err)
		*warnings = append(*warnings, "model entity extraction unavailable; heuristic entities only")
		return entities
	}

	appendNamed := func(names []string, kind entity.Kind) {
		for _, name := range names {
			if name == "" {
				continue
			}
			if _, dup := known[strings.ToLower(name)]; dup {
				continue
			}
			known[strings.ToLower(name)] = struct{}{}
			entities = append(entities, entity.Entity{Name: name, Kind: kind, Mentions: 1})
		}
	}
	appendNamed(modelEnts.People, entity.KindPerson)
	appendNamed(modelEnts.Companies, entity.KindCompany)
	appendNamed(modelEnts.Products, entity.KindProduct)
	return entities
}

// runGenerate synthesizes the final report and attaches source and entity
// metadata. With zero relevant pages the report is still generated, carrying
// an explicit warning. Malformed synthesis output is a permanent failure.
func (o *Orchestrator) runGenerate(ctx context.Context, j *job.ResearchJob, tpl *template.Template, relevant []relevantPage, entities []entity.Entity, warnings []string, searched, crawled int, log *slog.Logger) (*report.Report, error) {
	start := time.Now()
	j.SetStatus(job.StatusGenerating)

	req := &analyzer.ReportRequest{
		Query:          j.Query(),
		TemplateID:     tpl.ID,
		Sections:       tpl.Sections,
		AnalysisPrompt: tpl.AnalysisPrompt,
	}
	for _, rp := range relevant {
		req.Sources = append(req.Sources, analyzer.SourceText{
			URL:     rp.page.URL,
			Title:   rp.page.Title,
			Content: rp.page.Content,
		})
	}
	if len(relevant) == 0 {
		log.Warn("generating report without relevant sources")
		warnings = append(warnings, "no relevant sources found; report generated without source material")
	}

	rep, err := o.analyzer.GenerateReport(ctx, req)
	if err != nil {
		if errors.Is(err, analyzer.ErrMalformedOutput) {
			return nil, errors.New(job.ReasonMalformedOutput)
		}
		return nil, job.Transient(fmt.Errorf("generating report: %w", err))
	}
	if len(rep.Sections) == 0 {
		return nil, errors.New(job.ReasonMalformedOutput)
	}

	rep.JobID = j.ID()
	rep.Entities = entities
	rep.Warnings = warnings
	rep.Sources = report.SourceSummary{
		Searched: searched,
		Crawled:  crawled,
		Relevant: len(relevant),
	}
	now := time.Now().UTC()
	for _, rp := range relevant {
		rep.Sources.Refs = append(rep.Sources.Refs, report.SourceRef{
			URL:         rp.page.URL,
			Title:       rp.page.Title,
			Provider:    rp.result.Provider,
			Relevance:   rp.rel.Score,
			Reason:      rp.rel.Reason,
			WordCount:   len(strings.Fields(rp.page.Content)),
			RetrievedAt: now,
		})
	}

	metrics.ObservePhase("generate", start)
	return rep, nil
}

// cancelled reports whether the job should stop at this phase boundary.
func (o *Orchestrator) cancelled(ctx context.Context, j *job.ResearchJob) bool {
	return ctx.Err() != nil || j.CancelRequested()
}

// cancel marks the job failed with the stable cancellation reason.
func (o *Orchestrator) cancel(j *job.ResearchJob) error {
	j.Fail(job.ReasonCancelled)
	return job.ErrCancelled
}

// finish routes a phase error: transient errors are passed through for the
// caller's retry policy, everything else fails the job here.
func (o *Orchestrator) finish(j *job.ResearchJob, err error) error {
	if job.IsTransient(err) {
		return err
	}
	j.Fail(err.Error())
	return err
}

// checkpoint persists the job's current state. Persistence failures are
// logged, never fatal.
func (o *Orchestrator) checkpoint(ctx context.Context, j *job.ResearchJob, phase string, state *checkpointState) {
	blob, err := json.Marshal(state)
	if err != nil {
		o.logger.Warn("marshaling checkpoint", "job_id", j.ID(), "error", err)
		return
	}
	snap := j.Snapshot()
	cp := &storage.Checkpoint{
		JobID:      snap.ID,
		Query:      snap.Query,
		TemplateID: j.TemplateID(),
		Status:     snap.Status,
		Progress:   snap.Progress,
		Phase:      phase,
		Error:      snap.Error,
		State:      blob,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := o.store.Save(ctx, cp); err != nil {
		o.logger.Warn("saving checkpoint", "job_id", j.ID(), "phase", phase, "error", err)
	}
}

// LoadJob rebuilds a job from its persisted checkpoint, so status survives a
// process restart. The restored job is read-only state: it is not re-enqueued.
func (o *Orchestrator) LoadJob(ctx context.Context, jobID string) (*job.ResearchJob, error) {
	cp, err := o.store.Load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job.Restore(job.Snapshot{
		ID:        cp.JobID,
		Query:     cp.Query,
		Status:    cp.Status,
		Progress:  cp.Progress,
		Error:     cp.Error,
		CreatedAt: cp.UpdatedAt,
	}, cp.TemplateID, job.Options{}), nil
}

// LoadReport retrieves the persisted report for a completed job.
func (o *Orchestrator) LoadReport(ctx context.Context, jobID string) (*report.Report, error) {
	cp, err := o.store.Load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var state checkpointState
	if len(cp.State) > 0 {
		if err := json.Unmarshal(cp.State, &state); err != nil {
			return nil, fmt.Errorf("decoding checkpoint state: %w", err)
		}
	}
	if state.Report == nil {
		return nil, fmt.Errorf("job %s has no report: %w", jobID, storage.ErrNotFound)
	}
	return state.Report, nil
}
