package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/delverhq/delver/internal/job"
	"github.com/delverhq/delver/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresStore implements storage.Store
var _ storage.Store = (*postgresStore)(nil)

type postgresStore struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS job_checkpoints (
	job_id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	template_id TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL,
	phase TEXT NOT NULL,
	error TEXT,
	state JSONB,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// New creates a Postgres-backed checkpoint store.
func New(ctx context.Context, dsn string) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Save(ctx context.Context, cp *storage.Checkpoint) error {
	query := `
	INSERT INTO job_checkpoints (job_id, query, template_id, status, progress, phase, error, state, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (job_id) DO UPDATE SET
		status = EXCLUDED.status,
		progress = EXCLUDED.progress,
		phase = EXCLUDED.phase,
		error = EXCLUDED.error,
		state = EXCLUDED.state,
		updated_at = EXCLUDED.updated_at
	`

	var state any
	if len(cp.State) > 0 {
		state = string(cp.State)
	}

	_, err := s.pool.Exec(ctx, query,
		cp.JobID,
		cp.Query,
		cp.TemplateID,
		string(cp.Status),
		cp.Progress,
		cp.Phase,
		cp.Error,
		state,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *postgresStore) Load(ctx context.Context, jobID string) (*storage.Checkpoint, error) {
	query := `SELECT job_id, query, template_id, status, progress, phase, error, state, updated_at
	FROM job_checkpoints WHERE job_id = $1`

	var cp storage.Checkpoint
	var status string
	var errMsg *string
	var state *string

	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&cp.JobID, &cp.Query, &cp.TemplateID, &status, &cp.Progress,
		&cp.Phase, &errMsg, &state, &cp.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	cp.Status = job.Status(status)
	if errMsg != nil {
		cp.Error = *errMsg
	}
	if state != nil {
		cp.State = []byte(*state)
	}
	return &cp, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
