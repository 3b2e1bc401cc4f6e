package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"astock/internal/domain"
)

// Compile-time interface check.
var _ StatusStore = (*JSONStatusStore)(nil)

// JSONStatusStore keeps the SyncTask record in a single JSON file.
type JSONStatusStore struct {
	mu       sync.Mutex
	filePath string
}

// NewJSONStatusStore creates a store backed by
//
//	<dataDir>/cn/sync/task_status.json
func NewJSONStatusStore(dataDir string) *JSONStatusStore {
	return &JSONStatusStore{filePath: filepath.Join(dataDir, "cn", "sync", "task_status.json")}
}

// Path returns the backing file path.
func (s *JSONStatusStore) Path() string { return s.filePath }

// Save overwrites the record with task.
func (s *JSONStatusStore) Save(_ context.Context, task domain.SyncTask) error {
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling sync task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return err
	}
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing sync task: %w", err)
	}
	return os.Rename(tmp, s.filePath)
}

// Load returns the stored record. A missing file yields ErrNotFound.
func (s *JSONStatusStore) Load(_ context.Context) (domain.SyncTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.SyncTask{}, ErrNotFound
		}
		return domain.SyncTask{}, err
	}

	var task domain.SyncTask
	if err := json.Unmarshal(data, &task); err != nil {
		return domain.SyncTask{}, fmt.Errorf("parsing %s: %w", s.filePath, err)
	}
	return task, nil
}
