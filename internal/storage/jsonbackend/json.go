package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/delverhq/delver/internal/storage"
)

// ensure jsonStore implements storage.Store
var _ storage.Store = (*jsonStore)(nil)

// jsonStore appends every checkpoint as one NDJSON line. Load returns the
// last line written for a job, so the file doubles as an audit trail of the
// job's phase history.
type jsonStore struct {
	mu   sync.Mutex
	file *os.File
}

// New creates an NDJSON-file-backed checkpoint store.
func New(filePath string) (storage.Store, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint file: %w", err)
	}
	return &jsonStore{file: f}, nil
}

func (s *jsonStore) Save(ctx context.Context, cp *storage.Checkpoint) error {
	cloned := *cp
	cloned.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(&cloned)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	return nil
}

func (s *jsonStore) Load(ctx context.Context, jobID string) (*storage.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek checkpoint file: %w", err)
	}

	var latest *storage.Checkpoint
	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cp storage.Checkpoint
		if err := json.Unmarshal(line, &cp); err != nil {
			// Skip torn lines from a crashed writer.
			continue
		}
		if cp.JobID == jobID {
			cloned := cp
			latest = &cloned
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan checkpoint file: %w", err)
	}

	// Restore append position for subsequent saves.
	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("seek checkpoint file: %w", err)
	}

	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

func (s *jsonStore) Close() error {
	return s.file.Close()
}
