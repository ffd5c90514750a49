// Package timers keeps at most one pending fire-time callback per task id.
package timers

import (
	"sort"
	"sync"
	"time"
)

// Entry describes a registered timer.
type Entry struct {
	TaskID string    `json:"task_id"`
	FireAt time.Time `json:"fire_at"`
}

// ReconcileResult is the outcome of Registry.Reconcile.
type ReconcileResult struct {
	// Missing are enabled ids without a timer; the caller must register them.
	Missing []string
	// Orphaned are ids that had a timer but are not enabled; they are already unregistered.
	Orphaned []string
}

type handle struct {
	fireAt time.Time
	timer  *time.Timer
}

// Registry maps task ids to pending time.AfterFunc handles.
//
// Registering an id replaces (and stops) its previous handle. A callback runs
// only while its own handle is still the registered one, so a callback that
// already left the runtime timer heap still observes a swap or removal.
// A fired handle stays registered until it is replaced or unregistered.
// Nothing is retained for ids without a handle.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*handle
	now     func() time.Time
	armed   func(Entry)
	dropped func(string)
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithHooks sets callbacks invoked after a timer is armed or removed.
// Hooks run outside the registry lock.
func WithHooks(armed func(Entry), removed func(taskID string)) Option {
	return func(r *Registry) {
		r.armed = armed
		r.dropped = removed
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		handles: map[string]*handle{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register arms onFire for id at fireAt, replacing any existing handle.
// A fireAt in the past fires immediately.
func (r *Registry) Register(id string, fireAt time.Time, onFire func(id string)) {
	r.mu.Lock()
	if h, ok := r.handles[id]; ok && h.timer != nil {
		_ = h.timer.Stop()
	}
	delay := fireAt.Sub(r.now())
	if delay < 0 {
		delay = 0
	}
	h := &handle{fireAt: fireAt}
	h.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		live := r.handles[id] == h
		r.mu.Unlock()
		if !live || onFire == nil {
			return
		}
		onFire(id)
	})
	r.handles[id] = h
	armed := r.armed
	r.mu.Unlock()

	if armed != nil {
		armed(Entry{TaskID: id, FireAt: fireAt})
	}
}

// Unregister cancels the timer for id. It reports whether one existed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	ok := r.removeLocked(id)
	dropped := r.dropped
	r.mu.Unlock()
	if ok && dropped != nil {
		dropped(id)
	}
	return ok
}

func (r *Registry) removeLocked(id string) bool {
	h, ok := r.handles[id]
	if !ok {
		return false
	}
	if h.timer != nil {
		_ = h.timer.Stop()
	}
	delete(r.handles, id)
	return true
}

// UnregisterAll cancels every timer and returns how many were removed.
func (r *Registry) UnregisterAll() int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	for _, id := range ids {
		r.removeLocked(id)
	}
	dropped := r.dropped
	r.mu.Unlock()
	if dropped != nil {
		for _, id := range ids {
			dropped(id)
		}
	}
	return len(ids)
}

// Has reports whether id has a registered timer.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	_, ok := r.handles[id]
	r.mu.Unlock()
	return ok
}

// FireAt returns the registered fire time of id.
func (r *Registry) FireAt(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	if !ok {
		return time.Time{}, false
	}
	return h.fireAt, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	n := len(r.handles)
	r.mu.Unlock()
	return n
}

// List returns all registered timers ordered by fire time, then id.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.handles))
	for id, h := range r.handles {
		out = append(out, Entry{TaskID: id, FireAt: h.fireAt})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out
}

// Reconcile diffs the registry against the set of enabled task ids.
//
// Timers for ids outside enabled are unregistered and reported as Orphaned.
// Enabled ids without a timer are reported as Missing and left for the caller,
// which owns fire-time computation.
func (r *Registry) Reconcile(enabled []string) ReconcileResult {
	want := make(map[string]struct{}, len(enabled))
	for _, id := range enabled {
		want[id] = struct{}{}
	}

	var res ReconcileResult
	r.mu.Lock()
	for id := range r.handles {
		if _, ok := want[id]; !ok {
			res.Orphaned = append(res.Orphaned, id)
		}
	}
	for _, id := range res.Orphaned {
		r.removeLocked(id)
	}
	for id := range want {
		if _, ok := r.handles[id]; !ok {
			res.Missing = append(res.Missing, id)
		}
	}
	dropped := r.dropped
	r.mu.Unlock()

	if dropped != nil {
		for _, id := range res.Orphaned {
			dropped(id)
		}
	}
	sort.Strings(res.Missing)
	sort.Strings(res.Orphaned)
	return res
}
