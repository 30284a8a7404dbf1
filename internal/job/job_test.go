package job

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestOptions_DefaultsByDepth(t *testing.T) {
	cases := []struct {
		depth Depth
		want  int
	}{
		{DepthQuick, 5},
		{DepthStandard, 10},
		{DepthDeep, 20},
		{"", 10},
	}

	for _, tc := range cases {
		o := Options{Depth: tc.depth}
		o.ApplyDefaults()
		if o.MaxSources != tc.want {
			t.Errorf("depth %q: expected maxSources %d, got %d", tc.depth, tc.want, o.MaxSources)
		}
	}
}

func TestOptions_ExplicitMaxSourcesKept(t *testing.T) {
	o := Options{Depth: DepthDeep, MaxSources: 7}
	o.ApplyDefaults()
	if o.MaxSources != 7 {
		t.Errorf("expected explicit maxSources preserved, got %d", o.MaxSources)
	}
}

func TestJob_ProgressNeverDecreases(t *testing.T) {
	j := New("test query", "topic-brief", Options{})

	j.SetProgress(30)
	j.SetProgress(10)
	if got := j.Snapshot().Progress; got != 30 {
		t.Errorf("expected progress 30 after lower update, got %d", got)
	}

	j.SetProgress(110)
	if got := j.Snapshot().Progress; got != 100 {
		t.Errorf("expected progress clamped to 100, got %d", got)
	}
}

func TestJob_StatusForwardOnly(t *testing.T) {
	j := New("q", "topic-brief", Options{})

	j.SetStatus(StatusCrawling)
	j.SetStatus(StatusSearching)
	if got := j.Snapshot().Status; got != StatusCrawling {
		t.Errorf("expected backward transition ignored, got %s", got)
	}
}

func TestJob_FailFreezesState(t *testing.T) {
	j := New("q", "topic-brief", Options{})
	j.SetStatus(StatusSearching)
	j.SetProgress(15)
	j.Fail("no search results")

	j.SetProgress(50)
	j.SetStatus(StatusCrawling)

	snap := j.Snapshot()
	if snap.Status != StatusFailed {
		t.Errorf("expected failed status, got %s", snap.Status)
	}
	if snap.Progress != 15 {
		t.Errorf("expected progress frozen at 15, got %d", snap.Progress)
	}
	if snap.Error != "no search results" {
		t.Errorf("expected error reason kept, got %q", snap.Error)
	}
}

func TestJob_CompleteEndsAtHundred(t *testing.T) {
	j := New("q", "topic-brief", Options{})
	j.SetProgress(85)
	j.Complete()

	snap := j.Snapshot()
	if snap.Status != StatusCompleted || snap.Progress != 100 {
		t.Errorf("expected completed at 100, got %s/%d", snap.Status, snap.Progress)
	}
}

func TestJob_CancelOnlyWhileRunning(t *testing.T) {
	j := New("q", "topic-brief", Options{})

	if !j.RequestCancel() {
		t.Errorf("pending job should be cancellable")
	}
	if !j.CancelRequested() {
		t.Errorf("cancel flag should be set")
	}

	j.Fail(ReasonCancelled)
	if j.RequestCancel() {
		t.Errorf("terminal job should not be cancellable")
	}
}

func TestJob_ObserverSeesOrderedProgress(t *testing.T) {
	j := New("q", "topic-brief", Options{})

	var mu sync.Mutex
	var seen []int
	j.SetObserver(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.Progress)
		mu.Unlock()
	})

	for p := 10; p <= 100; p += 10 {
		j.SetProgress(p)
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("observer saw progress go backwards: %v", seen)
		}
	}
}

func TestTransient_Marking(t *testing.T) {
	base := errors.New("connection refused")

	if !IsTransient(Transient(base)) {
		t.Errorf("wrapped error should be transient")
	}
	if IsTransient(base) {
		t.Errorf("unwrapped error should not be transient")
	}
	if !IsTransient(fmt.Errorf("search phase: %w", Transient(base))) {
		t.Errorf("transient marker should survive further wrapping")
	}
	if Transient(nil) != nil {
		t.Errorf("Transient(nil) should be nil")
	}
}
