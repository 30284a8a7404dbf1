package job

import "errors"

// Stable failure reasons surfaced in the job's error field. API consumers
// match on these strings; internal log lines carry the detail.
const (
	ReasonCancelled       = "cancelled"
	ReasonNoSearchResults = "no search results"
	ReasonMalformedOutput = "analyzer: malformed output"
)

// ErrCancelled aborts a pipeline run after a cooperative cancellation check.
var ErrCancelled = errors.New(ReasonCancelled)

// transientError marks an infrastructure failure the queue is allowed to
// retry. Validation and analyzer-contract failures are never wrapped.
type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Transient wraps err so the queue's retry policy applies to it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked
// retryable.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
