// Package queue schedules research jobs onto a bounded worker pool with
// retry, a global start rate limit, and cooperative cancellation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/delverhq/delver/internal/job"
	"github.com/delverhq/delver/internal/metrics"
	"github.com/delverhq/delver/internal/template"
	"github.com/delverhq/delver/pkg/ratelimit"
)

var (
	// ErrNotFound is returned for unknown job IDs.
	ErrNotFound = errors.New("job not found")
	// ErrEmptyQuery rejects jobs with no query before one is created.
	ErrEmptyQuery = errors.New("query must not be empty")
	// ErrClosed rejects enqueues after Drain or Close.
	ErrClosed = errors.New("queue is closed")
	// ErrFull rejects enqueues when the backlog buffer is exhausted.
	ErrFull = errors.New("queue is full")
)

// Runner executes one job end to end. The pipeline orchestrator is the
// production implementation.
type Runner interface {
	Run(ctx context.Context, j *job.ResearchJob) error
}

// Config tunes the queue.
type Config struct {
	// Workers bounds how many jobs run concurrently. Default 2.
	Workers int
	// MaxAttempts bounds runs per job including the first. Default 3.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per retry. Default 1s.
	BackoffBase time.Duration
	// StartLimit is the global cap on job starts per StartWindow. Default 5.
	StartLimit int
	// StartWindow is the rate-limit window. Default 1 minute.
	StartWindow time.Duration
	// Backlog is the enqueue buffer size. Default 64.
	Backlog int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.StartLimit == 0 {
		c.StartLimit = 5
	}
	if c.StartWindow <= 0 {
		c.StartWindow = time.Minute
	}
	if c.Backlog <= 0 {
		c.Backlog = 64
	}
}

// Queue accepts research jobs and runs them on a fixed worker pool.
type Queue struct {
	cfg       Config
	runner    Runner
	templates *template.Registry
	limiter   *ratelimit.Bucket
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	jobs   map[string]*job.ResearchJob
	closed bool

	ch chan *job.ResearchJob
	wg sync.WaitGroup

	notify func(job.Snapshot)

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a queue. Workers do not run until Start.
func New(runner Runner, templates *template.Registry, cfg Config, logger *slog.Logger) *Queue {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:       cfg,
		runner:    runner,
		templates: templates,
		limiter:   ratelimit.NewBucket(cfg.StartLimit, cfg.StartWindow),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*job.ResearchJob),
		ch:        make(chan *job.ResearchJob, cfg.Backlog),
		sleep:     sleepCtx,
	}
}

// SetNotifier installs a callback fired with every job snapshot change.
// Must be called before Start.
func (q *Queue) SetNotifier(fn func(job.Snapshot)) {
	q.notify = fn
}

// Start launches the worker pool.
func (q *Queue) Start() {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Info("queue started", "workers", q.cfg.Workers,
		"start_limit", q.cfg.StartLimit, "start_window", q.cfg.StartWindow)
}

// Enqueue validates the request, creates the job, and schedules it. The
// query must be non-empty and the template must exist; both are checked
// before a job exists, so invalid requests never enter the system.
func (q *Queue) Enqueue(query, templateID string, opts job.Options) (*job.ResearchJob, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if _, err := q.templates.Get(templateID); err != nil {
		return nil, err
	}

	j := job.New(query, templateID, opts)
	if q.notify != nil {
		j.SetObserver(q.notify)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	q.jobs[j.ID()] = j
	q.mu.Unlock()

	select {
	case q.ch <- j:
	default:
		q.mu.Lock()
		delete(q.jobs, j.ID())
		q.mu.Unlock()
		return nil, ErrFull
	}

	q.logger.Info("job enqueued", "job_id", j.ID(), "template", templateID)
	return j, nil
}

// GetStatus returns the current snapshot for a job.
func (q *Queue) GetStatus(id string) (job.Snapshot, error) {
	q.mu.RLock()
	j, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return job.Snapshot{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j.Snapshot(), nil
}

// Get returns the job itself, for callers that need to observe it.
func (q *Queue) Get(id string) (*job.ResearchJob, error) {
	q.mu.RLock()
	j, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, nil
}

// RequestCancel marks a job for cancellation. It reports whether the
// request was accepted; terminal jobs reject it.
func (q *Queue) RequestCancel(id string) (bool, error) {
	q.mu.RLock()
	j, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j.RequestCancel(), nil
}

// Drain stops accepting new jobs and waits for the backlog to finish.
func (q *Queue) Drain() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.ch)
	q.wg.Wait()
}

// Close stops accepting new jobs and aborts in-flight work.
func (q *Queue) Close() {
	q.mu.Lock()
	alreadyClosed := q.closed
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	if !alreadyClosed {
		close(q.ch)
	}
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.ch {
		if err := q.limiter.Wait(q.ctx); err != nil {
			j.Fail(job.ReasonCancelled)
			metrics.RecordOutcome("cancelled")
			continue
		}
		q.execute(j)
	}
}

// execute runs one job with the retry policy: transient errors retry with
// exponential backoff up to the attempt cap; cancellation and permanent
// failures never retry.
func (q *Queue) execute(j *job.ResearchJob) {
	backoff := q.cfg.BackoffBase
	var lastErr error

	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		err := q.runner.Run(q.ctx, j)
		if err == nil {
			metrics.RecordOutcome("completed")
			return
		}
		if errors.Is(err, job.ErrCancelled) {
			metrics.RecordOutcome("cancelled")
			return
		}
		if !job.IsTransient(err) {
			// The runner already failed the job with its stable reason.
			metrics.RecordOutcome("failed")
			return
		}

		lastErr = err
		if attempt == q.cfg.MaxAttempts {
			break
		}
		metrics.JobRetriesTotal.Inc()
		q.logger.Warn("retrying job", "job_id", j.ID(), "attempt", attempt,
			"backoff", backoff, "error", err)
		if sleepErr := q.sleep(q.ctx, backoff); sleepErr != nil {
			j.Fail(job.ReasonCancelled)
			metrics.RecordOutcome("cancelled")
			return
		}
		if j.CancelRequested() {
			j.Fail(job.ReasonCancelled)
			metrics.RecordOutcome("cancelled")
			return
		}
		backoff *= 2
	}

	j.Fail(lastErr.Error())
	metrics.RecordOutcome("failed")
	q.logger.Error("job failed after retries", "job_id", j.ID(),
		"attempts", q.cfg.MaxAttempts, "error", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
