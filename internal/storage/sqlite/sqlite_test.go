package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/delverhq/delver/internal/job"
	"github.com/delverhq/delver/internal/storage"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLite_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state, _ := json.Marshal(map[string]int{"crawled": 8})
	cp := &storage.Checkpoint{
		JobID:      "job-1",
		Query:      "quantum sensors market",
		TemplateID: "market-overview",
		Status:     job.StatusAnalyzing,
		Progress:   75,
		Phase:      "analyze",
		State:      state,
	}

	if err := store.Save(ctx, cp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := store.Load(ctx, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if loaded.Query != cp.Query || loaded.TemplateID != cp.TemplateID {
		t.Errorf("identity fields did not round-trip: %+v", loaded)
	}
	if loaded.Status != job.StatusAnalyzing || loaded.Progress != 75 {
		t.Errorf("expected analyzing/75, got %s/%d", loaded.Status, loaded.Progress)
	}

	var decoded map[string]int
	if err := json.Unmarshal(loaded.State, &decoded); err != nil {
		t.Fatalf("state did not round-trip: %v", err)
	}
	if decoded["crawled"] != 8 {
		t.Errorf("expected crawled=8 in state, got %v", decoded)
	}
}

func TestSQLite_UpsertKeepsOneRowPerJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.Save(ctx, &storage.Checkpoint{JobID: "job-1", Status: job.StatusSearching, Progress: 10, Phase: "search"})
	_ = store.Save(ctx, &storage.Checkpoint{JobID: "job-1", Status: job.StatusFailed, Progress: 30, Phase: "crawl", Error: "cancelled"})

	loaded, err := store.Load(ctx, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Status != job.StatusFailed || loaded.Error != "cancelled" {
		t.Errorf("expected latest checkpoint to win, got %s/%q", loaded.Status, loaded.Error)
	}
}

func TestSQLite_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
