package storage

import (
	"context"
	"sort"
	"sync"

	"mediatasks/internal/task"
)

// Memory is an in-process Store. The zero value is not usable; use NewMemory.
type Memory struct {
	mu     sync.RWMutex
	tasks  map[string]task.ScheduledTask
	items  map[string]task.Item
	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		tasks: map[string]task.ScheduledTask{},
		items: map[string]task.Item{},
	}
}

func (m *Memory) List(ctx context.Context) ([]task.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]task.ScheduledTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sortTasks(out)
	return out, nil
}

func (m *Memory) Get(ctx context.Context, id string) (task.ScheduledTask, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return task.ScheduledTask{}, false, ErrClosed
	}
	t, ok := m.tasks[id]
	return t, ok, nil
}

func (m *Memory) Add(ctx context.Context, t task.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.tasks[t.ID]; ok {
		return ErrDuplicate
	}
	t.IsRunning = false
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) Update(ctx context.Context, t task.ScheduledTask) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.tasks[t.ID]; !ok {
		return false, nil
	}
	t.IsRunning = false
	m.tasks[t.ID] = t
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.tasks[id]; !ok {
		return false, nil
	}
	delete(m.tasks, id)
	return true, nil
}

func (m *Memory) ListItems(ctx context.Context) ([]task.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]task.Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetItem(ctx context.Context, id string) (task.Item, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return task.Item{}, false, ErrClosed
	}
	it, ok := m.items[id]
	return it, ok, nil
}

// PutItem inserts or replaces an item.
func (m *Memory) PutItem(ctx context.Context, it task.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.items[it.ID] = it
	return nil
}

func (m *Memory) DeleteItem(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.items[id]; !ok {
		return false, nil
	}
	delete(m.items, id)
	return true, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func sortTasks(ts []task.ScheduledTask) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].ID < ts[j].ID
		}
		return ts[i].CreatedAt.Before(ts[j].CreatedAt)
	})
}
