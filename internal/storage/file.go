package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mediatasks/internal/task"
	logx "mediatasks/pkg/logx"
)

// fileStore keeps everything in memory and rewrites one JSON document
// (<path>) after every successful mutation: write <path>.tmp, fsync, rename.
type fileStore struct {
	log  logx.Logger
	path string

	mu  sync.Mutex // serializes mutate+persist
	mem *Memory
}

type fileSnapshot struct {
	Version int                  `json:"version"`
	Tasks   []task.ScheduledTask `json:"tasks"`
	Items   []task.Item          `json:"items"`
}

const fileSnapshotVersion = 1

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	mem := NewMemory()
	snap, err := loadSnapshot(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	for _, t := range snap.Tasks {
		mem.tasks[t.ID] = t
	}
	for _, it := range snap.Items {
		mem.items[it.ID] = it
	}
	log.Debug("file store opened", logx.String("path", path), logx.Int("tasks", len(snap.Tasks)), logx.Int("items", len(snap.Items)))
	return &fileStore{log: log, path: path, mem: mem}, nil
}

func loadSnapshot(path string) (fileSnapshot, error) {
	var snap fileSnapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return fileSnapshot{}, err
	}
	return snap, nil
}

func (s *fileStore) persistLocked(ctx context.Context) error {
	tasks, err := s.mem.List(ctx)
	if err != nil {
		return err
	}
	items, err := s.mem.ListItems(ctx)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fileSnapshot{Version: fileSnapshotVersion, Tasks: tasks, Items: items}); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) mutate(ctx context.Context, op string, fn func() (bool, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed, err := fn()
	if err != nil || !changed {
		return changed, err
	}
	if err := s.persistLocked(ctx); err != nil {
		s.log.Error("file store persist failed", logx.String("op", op), logx.Err(err))
		return true, err
	}
	return true, nil
}

func (s *fileStore) List(ctx context.Context) ([]task.ScheduledTask, error) {
	return s.mem.List(ctx)
}

func (s *fileStore) Get(ctx context.Context, id string) (task.ScheduledTask, bool, error) {
	return s.mem.Get(ctx, id)
}

func (s *fileStore) Add(ctx context.Context, t task.ScheduledTask) error {
	_, err := s.mutate(ctx, "add", func() (bool, error) {
		return true, s.mem.Add(ctx, t)
	})
	return err
}

func (s *fileStore) Update(ctx context.Context, t task.ScheduledTask) (bool, error) {
	return s.mutate(ctx, "update", func() (bool, error) { return s.mem.Update(ctx, t) })
}

func (s *fileStore) Delete(ctx context.Context, id string) (bool, error) {
	return s.mutate(ctx, "delete", func() (bool, error) { return s.mem.Delete(ctx, id) })
}

func (s *fileStore) ListItems(ctx context.Context) ([]task.Item, error) {
	return s.mem.ListItems(ctx)
}

func (s *fileStore) GetItem(ctx context.Context, id string) (task.Item, bool, error) {
	return s.mem.GetItem(ctx, id)
}

func (s *fileStore) PutItem(ctx context.Context, it task.Item) error {
	_, err := s.mutate(ctx, "put_item", func() (bool, error) {
		return true, s.mem.PutItem(ctx, it)
	})
	return err
}

func (s *fileStore) DeleteItem(ctx context.Context, id string) (bool, error) {
	return s.mutate(ctx, "delete_item", func() (bool, error) { return s.mem.DeleteItem(ctx, id) })
}

func (s *fileStore) Close() error {
	return s.mem.Close()
}
