package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/RezaEskandarii/ticketfire/types"
)

// FileTaskStore keeps the task list in a single JSON array. Writes go to a temp file in the same
// directory and are renamed over the target, so a crash never leaves a half written file behind.
type FileTaskStore struct {
	path string
	mu   sync.Mutex
}

func NewFileTaskStore(path string) (*FileTaskStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}
	return &FileTaskStore{path: path}, nil
}

func (s *FileTaskStore) Load(_ context.Context) ([]types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []types.Task{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return []types.Task{}, nil
	}

	var tasks []types.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parse JSON %s: %w", s.path, err)
	}
	if tasks == nil {
		tasks = []types.Task{}
	}
	return tasks, nil
}

func (s *FileTaskStore) Save(_ context.Context, tasks []types.Task) error {
	if tasks == nil {
		tasks = []types.Task{}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON for %s: %w", s.path, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, data)
}

func (s *FileTaskStore) Close() error {
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tasks-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}
