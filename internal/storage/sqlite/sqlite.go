package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/delverhq/delver/internal/job"
	"github.com/delverhq/delver/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteStore implements storage.Store
var _ storage.Store = (*sqliteStore)(nil)

type sqliteStore struct {
	db *sql.DB
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
	state TEXT,
	updated_at DATETIME NOT NULL
);
`

// New creates a SQLite-backed checkpoint store.
func New(dsn string) (storage.Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Save(ctx context.Context, cp *storage.Checkpoint) error {
	query := `
	INSERT INTO job_checkpoints (job_id, query, template_id, status, progress, phase, error, state, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id) DO UPDATE SET
		status = excluded.status,
		progress = excluded.progress,
		phase = excluded.phase,
		error = excluded.error,
		state = excluded.state,
		updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		cp.JobID,
		cp.Query,
		cp.TemplateID,
		string(cp.Status),
		cp.Progress,
		cp.Phase,
		cp.Error,
		string(cp.State),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *sqliteStore) Load(ctx context.Context, jobID string) (*storage.Checkpoint, error) {
	query := `SELECT job_id, query, template_id, status, progress, phase, error, state, updated_at
	FROM job_checkpoints WHERE job_id = ?`

	var cp storage.Checkpoint
	var status, state string

	err := s.db.QueryRowContext(ctx, query, jobID).Scan(
		&cp.JobID, &cp.Query, &cp.TemplateID, &status, &cp.Progress,
		&cp.Phase, &cp.Error, &state, &cp.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	cp.Status = job.Status(status)
	if state != "" {
		cp.State = []byte(state)
	}
	return &cp, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
