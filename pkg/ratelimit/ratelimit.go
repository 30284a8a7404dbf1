package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Bucket enforces a cap on the number of operations started within a rolling
// time window. It is used to bound how many research jobs begin per minute,
// independent of how many run concurrently.
// It is safe for concurrent use by multiple goroutines.
type Bucket struct {
	mu     sync.Mutex
	starts []time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewBucket creates a bucket allowing at most limit starts per window.
// If limit is <= 0, the bucket never blocks.
func NewBucket(limit int, window time.Duration) *Bucket {
	if window <= 0 {
		window = time.Minute
	}
	return &Bucket{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// TryAcquire reports whether a start is permitted right now. On success the
// start is recorded against the window.
func (b *Bucket) TryAcquire() bool {
	if b.limit <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.evict(now)

	if len(b.starts) >= b.limit {
		return false
	}
	b.starts = append(b.starts, now)
	return true
}

// Wait blocks until a start is permitted or the context is cancelled.
func (b *Bucket) Wait(ctx context.Context) error {
	if b.limit <= 0 {
		return nil
	}

	for {
		if b.TryAcquire() {
			return nil
		}

		delay := b.nextFree()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// nextFree returns how long until the oldest recorded start falls out of the
// window. Called only when the bucket is full.
func (b *Bucket) nextFree() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.starts) == 0 {
		return time.Millisecond
	}
	d := b.starts[0].Add(b.window).Sub(b.now())
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// evict drops starts older than the window. Caller must hold the mutex.
func (b *Bucket) evict(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.starts) && !b.starts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.starts = append(b.starts[:0], b.starts[i:]...)
	}
}
