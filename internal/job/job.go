package job

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a research job. Transitions only move
// forward; StatusFailed is reachable from any non-terminal state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSearching  Status = "searching"
	StatusCrawling   Status = "crawling"
	StatusAnalyzing  Status = "analyzing"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// statusRank orders statuses for the forward-only transition check.
var statusRank = map[Status]int{
	StatusPending:    0,
	StatusSearching:  1,
	StatusCrawling:   2,
	StatusAnalyzing:  3,
	StatusGenerating: 4,
	StatusCompleted:  5,
	StatusFailed:     6,
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Depth controls how wide a research job casts its net.
type Depth string

const (
	DepthQuick    Depth = "quick"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// Options tune a single research job.
type Options struct {
	Depth         Depth `json:"depth"`
	MaxSources    int   `json:"maxSources"`
	IncludeRecent bool  `json:"includeRecent"`
}

// ApplyDefaults fills unset fields. MaxSources defaults by depth: quick=5,
// standard=10, deep=20.
func (o *Options) ApplyDefaults() {
	if o.Depth == "" {
		o.Depth = DepthStandard
	}
	if o.MaxSources <= 0 {
		switch o.Depth {
		case DepthQuick:
			o.MaxSources = 5
		case DepthDeep:
			o.MaxSources = 20
		default:
			o.MaxSources = 10
		}
	}
}

// Snapshot is a point-in-time view of a job as seen by status readers.
type Snapshot struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ResearchJob is the unit of work flowing through the pipeline. All state
// mutation goes through methods so that progress stays monotonic and status
// transitions stay forward-only regardless of which goroutine reports them.
type ResearchJob struct {
	mu sync.Mutex

	id         string
	query      string
	templateID string
	opts       Options
	createdAt  time.Time

	status          Status
	progress        int
	errReason       string
	cancelRequested bool

	// onChange is invoked with a fresh snapshot after every observable state
	// change, outside the lock ordering of any caller.
	onChange func(Snapshot)
}

// New creates a pending job with a fresh ID and defaulted options.
func New(query, templateID string, opts Options) *ResearchJob {
	opts.ApplyDefaults()
	return &ResearchJob{
		id:         uuid.New().String(),
		query:      query,
		templateID: templateID,
		opts:       opts,
		createdAt:  time.Now().UTC(),
		status:     StatusPending,
	}
}

// ID returns the immutable job identifier.
func (j *ResearchJob) ID() string { return j.id }

// Query returns the user's research query.
func (j *ResearchJob) Query() string { return j.query }

// TemplateID returns the report template reference.
func (j *ResearchJob) TemplateID() string { return j.templateID }

// Options returns the job's effective options.
func (j *ResearchJob) Options() Options { return j.opts }

// SetObserver installs a callback fired after every status or progress
// change. Must be set before the job starts executing.
func (j *ResearchJob) SetObserver(fn func(Snapshot)) {
	j.mu.Lock()
	j.onChange = fn
	j.mu.Unlock()
}

// SetStatus advances the job to the given status. Backward transitions and
// transitions out of a terminal state are ignored.
func (j *ResearchJob) SetStatus(s Status) {
	j.mu.Lock()
	if j.status.Terminal() || statusRank[s] <= statusRank[j.status] {
		j.mu.Unlock()
		return
	}
	j.status = s
	snap := j.snapshotLocked()
	fn := j.onChange
	j.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// SetProgress raises progress to p. Values below the current progress or
// above 100 are clamped; progress never decreases.
func (j *ResearchJob) SetProgress(p int) {
	j.mu.Lock()
	if p > 100 {
		p = 100
	}
	if j.status.Terminal() || p <= j.progress {
		j.mu.Unlock()
		return
	}
	j.progress = p
	snap := j.snapshotLocked()
	fn := j.onChange
	j.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// Complete marks the job finished with progress pinned at 100.
func (j *ResearchJob) Complete() {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return
	}
	j.status = StatusCompleted
	j.progress = 100
	snap := j.snapshotLocked()
	fn := j.onChange
	j.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// Fail marks the job failed with the given reason. Progress freezes at its
// last value.
func (j *ResearchJob) Fail(reason string) {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return
	}
	j.status = StatusFailed
	j.errReason = reason
	snap := j.snapshotLocked()
	fn := j.onChange
	j.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// RequestCancel sets the cooperative cancellation flag. It returns true when
// the job was still in a cancellable (non-terminal) state.
func (j *ResearchJob) RequestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.cancelRequested = true
	return true
}

// CancelRequested reports the cancellation flag. The pipeline checks it at
// phase boundaries only; in-flight network calls run to completion.
func (j *ResearchJob) CancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested
}

// Snapshot returns a consistent view of the job's observable state.
func (j *ResearchJob) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *ResearchJob) snapshotLocked() Snapshot {
	return Snapshot{
		ID:        j.id,
		Query:     j.query,
		Status:    j.status,
		Progress:  j.progress,
		Error:     j.errReason,
		CreatedAt: j.createdAt,
	}
}

// Restore rebuilds a job from persisted state. Used when loading checkpoints.
func Restore(snap Snapshot, templateID string, opts Options) *ResearchJob {
	opts.ApplyDefaults()
	return &ResearchJob{
		id:         snap.ID,
		query:      snap.Query,
		templateID: templateID,
		opts:       opts,
		createdAt:  snap.CreatedAt,
		status:     snap.Status,
		progress:   snap.Progress,
		errReason:  snap.Error,
	}
}
