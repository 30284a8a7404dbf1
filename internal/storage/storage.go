package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/delverhq/delver/internal/job"
)

// ErrNotFound is returned by Load when no checkpoint exists for a job.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is the durable record written after each pipeline phase. State
// holds phase artifacts (accumulated search results, crawled pages, the final
// report) as an opaque JSON blob owned by the pipeline.
type Checkpoint struct {
	JobID      string          `json:"jobId"`
	Query      string          `json:"query"`
	TemplateID string          `json:"templateId"`
	Status     job.Status      `json:"status"`
	Progress   int             `json:"progress"`
	Phase      string          `json:"phase"`
	Error      string          `json:"error,omitempty"`
	State      json.RawMessage `json:"state,omitempty"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Store persists job checkpoints for crash recovery and report retrieval.
// Save overwrites any previous checkpoint for the same job.
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, jobID string) (*Checkpoint, error)
	Close() error
}
