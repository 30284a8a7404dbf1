package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/delverhq/delver/internal/job"
	"github.com/delverhq/delver/internal/template"
)

// fakeRunner scripts the outcome of each attempt per job.
type fakeRunner struct {
	mu       sync.Mutex
	attempts map[string]int
	// script returns the error for the given attempt (1-based).
	script func(j *job.ResearchJob, attempt int) error
}

func newFakeRunner(script func(j *job.ResearchJob, attempt int) error) *fakeRunner {
	return &fakeRunner{attempts: make(map[string]int), script: script}
}

func (r *fakeRunner) Run(ctx context.Context, j *job.ResearchJob) error {
	r.mu.Lock()
	r.attempts[j.ID()]++
	attempt := r.attempts[j.ID()]
	r.mu.Unlock()
	return r.script(j, attempt)
}

func (r *fakeRunner) attemptsFor(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[id]
}

func succeed(j *job.ResearchJob, attempt int) error {
	j.Complete()
	return nil
}

// newTestQueue builds a queue with instant recorded backoff.
func newTestQueue(t *testing.T, runner Runner, cfg Config) (*Queue, *[]time.Duration) {
	t.Helper()
	q := New(runner, template.NewRegistry(), cfg, nil)
	var mu sync.Mutex
	delays := &[]time.Duration{}
	q.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return nil
	}
	return q, delays
}

func TestEnqueueValidation(t *testing.T) {
	q, _ := newTestQueue(t, newFakeRunner(succeed), Config{})

	if _, err := q.Enqueue("   ", "topic-brief", job.Options{}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("empty query error = %v", err)
	}
	if _, err := q.Enqueue("query", "no-such", job.Options{}); !errors.Is(err, template.ErrNotFound) {
		t.Errorf("unknown template error = %v", err)
	}
}

func TestEnqueueAndComplete(t *testing.T) {
	runner := newFakeRunner(succeed)
	q, _ := newTestQueue(t, runner, Config{})
	q.Start()

	j, err := q.Enqueue("acme research", "topic-brief", job.Options{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	q.Drain()

	snap, err := q.GetStatus(j.ID())
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if snap.Status != job.StatusCompleted {
		t.Errorf("status = %s, want completed", snap.Status)
	}
	if runner.attemptsFor(j.ID()) != 1 {
		t.Errorf("attempts = %d, want 1", runner.attemptsFor(j.ID()))
	}
}

func TestGetStatusUnknown(t *testing.T) {
	q, _ := newTestQueue(t, newFakeRunner(succeed), Config{})
	if _, err := q.GetStatus("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if _, err := q.RequestCancel("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestRetryTransientWithBackoff(t *testing.T) {
	runner := newFakeRunner(func(j *job.ResearchJob, attempt int) error {
		if attempt < 3 {
			return job.Transient(errors.New("upstream 503"))
		}
		j.Complete()
		return nil
	})
	q, delays := newTestQueue(t, runner, Config{Workers: 1})
	q.Start()

	j, err := q.Enqueue("flaky", "topic-brief", job.Options{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	q.Drain()

	if got := runner.attemptsFor(j.ID()); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], want[i])
		}
	}
	if snap, _ := q.GetStatus(j.ID()); snap.Status != job.StatusCompleted {
		t.Errorf("status = %s, want completed", snap.Status)
	}
}

func TestRetryExhaustionFailsWithLastError(t *testing.T) {
	runner := newFakeRunner(func(j *job.ResearchJob, attempt int) error {
		return job.Transient(errors.New("connection reset"))
	})
	q, _ := newTestQueue(t, runner, Config{Workers: 1})
	q.Start()

	j, _ := q.Enqueue("doomed", "topic-brief", job.Options{})
	q.Drain()

	if got := runner.attemptsFor(j.ID()); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	snap, _ := q.GetStatus(j.ID())
	if snap.Status != job.StatusFailed {
		t.Errorf("status = %s, want failed", snap.Status)
	}
	if snap.Error != "connection reset" {
		t.Errorf("error = %q, want the last transient message", snap.Error)
	}
}

func TestPermanentErrorNotRetried(t *testing.T) {
	runner := newFakeRunner(func(j *job.ResearchJob, attempt int) error {
		j.Fail(job.ReasonNoSearchResults)
		return errors.New(job.ReasonNoSearchResults)
	})
	q, delays := newTestQueue(t, runner, Config{Workers: 1})
	q.Start()

	j, _ := q.Enqueue("nothing", "topic-brief", job.Options{})
	q.Drain()

	if got := runner.attemptsFor(j.ID()); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
	if len(*delays) != 0 {
		t.Errorf("backoff slept on a permanent error: %v", *delays)
	}
	if snap, _ := q.GetStatus(j.ID()); snap.Error != job.ReasonNoSearchResults {
		t.Errorf("error = %q", snap.Error)
	}
}

func TestCancelledNotRetried(t *testing.T) {
	runner := newFakeRunner(func(j *job.ResearchJob, attempt int) error {
		j.Fail(job.ReasonCancelled)
		return job.ErrCancelled
	})
	q, _ := newTestQueue(t, runner, Config{Workers: 1})
	q.Start()

	j, _ := q.Enqueue("cancelled", "topic-brief", job.Options{})
	q.Drain()

	if got := runner.attemptsFor(j.ID()); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestCancelBetweenRetries(t *testing.T) {
	var jobRef atomic.Pointer[job.ResearchJob]
	runner := newFakeRunner(func(rj *job.ResearchJob, attempt int) error {
		jobRef.Store(rj)
		return job.Transient(errors.New("timeout"))
	})
	q := New(runner, template.NewRegistry(), Config{Workers: 1}, nil)
	q.sleep = func(ctx context.Context, d time.Duration) error {
		// The backoff sleep only runs after an attempt, so the job is set.
		jobRef.Load().RequestCancel()
		return nil
	}
	q.Start()

	j, err := q.Enqueue("cancel mid retry", "topic-brief", job.Options{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	q.Drain()

	if got := runner.attemptsFor(j.ID()); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry after cancel)", got)
	}
	snap, _ := q.GetStatus(j.ID())
	if snap.Error != job.ReasonCancelled {
		t.Errorf("error = %q, want cancelled", snap.Error)
	}
}

func TestConcurrencyCap(t *testing.T) {
	var running, peak atomic.Int32
	block := make(chan struct{})
	runner := newFakeRunner(func(j *job.ResearchJob, attempt int) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-block
		running.Add(-1)
		j.Complete()
		return nil
	})
	q, _ := newTestQueue(t, runner, Config{Workers: 2})
	q.Start()

	for i := 0; i < 4; i++ {
		if _, err := q.Enqueue("load", "topic-brief", job.Options{}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(block)
	q.Drain()

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestEnqueueAfterDrain(t *testing.T) {
	q, _ := newTestQueue(t, newFakeRunner(succeed), Config{})
	q.Start()
	q.Drain()

	if _, err := q.Enqueue("late", "topic-brief", job.Options{}); !errors.Is(err, ErrClosed) {
		t.Errorf("error = %v, want ErrClosed", err)
	}
}

func TestEnqueueBacklogFull(t *testing.T) {
	// No workers started, backlog of one.
	q, _ := newTestQueue(t, newFakeRunner(succeed), Config{Backlog: 1})

	if _, err := q.Enqueue("first", "topic-brief", job.Options{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	_, err := q.Enqueue("second", "topic-brief", job.Options{})
	if !errors.Is(err, ErrFull) {
		t.Errorf("error = %v, want ErrFull", err)
	}
}

func TestNotifierObservesTerminalState(t *testing.T) {
	var mu sync.Mutex
	var seen []job.Snapshot
	q, _ := newTestQueue(t, newFakeRunner(succeed), Config{Workers: 1})
	q.SetNotifier(func(s job.Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	q.Start()

	if _, err := q.Enqueue("observed", "topic-brief", job.Options{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	q.Drain()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("no notifications")
	}
	last := seen[len(seen)-1]
	if last.Status != job.StatusCompleted || last.Progress != 100 {
		t.Errorf("last notification = %+v", last)
	}
}
