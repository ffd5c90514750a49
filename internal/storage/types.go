package storage

import (
	"context"
	"errors"
	"time"

	"mediatasks/internal/task"
)

var (
	ErrClosed    = errors.New("storage closed")
	ErrDuplicate = errors.New("duplicate id")
)

// Config configures storage.
//
// Driver values:
//   - "memory" (default when empty)
//   - "file": JSON document at Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// TaskStore is the scheduled-task persistence API.
//
// Records are returned by value; callers never share memory with the store.
type TaskStore interface {
	List(ctx context.Context) ([]task.ScheduledTask, error)
	Get(ctx context.Context, id string) (task.ScheduledTask, bool, error)
	// Add inserts a new task; an existing id fails with ErrDuplicate.
	Add(ctx context.Context, t task.ScheduledTask) error
	// Update replaces a whole record. It reports false when id does not exist.
	Update(ctx context.Context, t task.ScheduledTask) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// ItemStore is the read-only view of tracked items.
type ItemStore interface {
	ListItems(ctx context.Context) ([]task.Item, error)
	GetItem(ctx context.Context, id string) (task.Item, bool, error)
}

// Store is what drivers implement: both views plus item maintenance.
type Store interface {
	TaskStore
	ItemStore
	PutItem(ctx context.Context, it task.Item) error
	DeleteItem(ctx context.Context, id string) (bool, error)
	Close() error
}
