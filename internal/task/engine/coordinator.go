package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mediatasks/internal/eventbus"
	"mediatasks/internal/storage"
	"mediatasks/internal/task"
	"mediatasks/internal/task/schedule"
	logx "mediatasks/pkg/logx"
)

// Coordinator runs task actions with per-task single-flight, an execution
// deadline, and post-run bookkeeping (run history, next run, timer re-arm).
type Coordinator struct {
	mu     sync.Mutex
	cfg    Config
	closed bool

	store  storage.TaskStore
	action Action
	armer  Armer
	locks  *task.KeyLocks
	log    logx.Logger
	bus    eventbus.Bus
	now    func() time.Time

	stateMu sync.Mutex
	states  map[string]*RunState

	wg       sync.WaitGroup
	inFlight atomic.Int32

	hmu     sync.Mutex
	history []HistoryItem
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithBus publishes task.* events to b.
func WithBus(b eventbus.Bus) Option {
	return func(c *Coordinator) { c.bus = b }
}

// WithKeyLocks shares per-task write locks with other writers of the store.
func WithKeyLocks(l *task.KeyLocks) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.locks = l
		}
	}
}

func New(cfg Config, store storage.TaskStore, action Action, log logx.Logger, opts ...Option) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Coordinator{
		cfg:    cfg.withDefaults(),
		store:  store,
		action: action,
		locks:  &task.KeyLocks{},
		log:    log.With(logx.String("comp", "engine")),
		now:    time.Now,
		states: map[string]*RunState{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetArmer wires the timer owner. Until set, runs do not re-arm.
func (c *Coordinator) SetArmer(a Armer) {
	c.mu.Lock()
	c.armer = a
	c.mu.Unlock()
}

// Apply swaps the runtime config (deadline, backoff, location, history size).
func (c *Coordinator) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()

	c.hmu.Lock()
	if len(c.history) > cfg.HistorySize {
		c.history = append([]HistoryItem(nil), c.history[len(c.history)-cfg.HistorySize:]...)
	}
	c.hmu.Unlock()
}

func (c *Coordinator) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Calculator returns the schedule calculator for the configured location.
func (c *Coordinator) Calculator() schedule.Calculator {
	return schedule.Calculator{Location: c.Config().Location}
}

// acquire takes the run-lock of id. Entries exist only while a run holds
// them; acquire and release both run under stateMu.
func (c *Coordinator) acquire(id string, now time.Time) (*RunState, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	st := c.states[id]
	if st == nil {
		st = &RunState{}
		c.states[id] = st
	}
	return st, st.TryAcquire(now)
}

func (c *Coordinator) release(id string, st *RunState) {
	c.stateMu.Lock()
	st.Release()
	if c.states[id] == st {
		delete(c.states, id)
	}
	c.stateMu.Unlock()
}

// IsRunning reports whether id currently holds its run-lock.
func (c *Coordinator) IsRunning(id string) bool {
	c.stateMu.Lock()
	st := c.states[id]
	c.stateMu.Unlock()
	if st == nil {
		return false
	}
	running, _ := st.Running()
	return running
}

// Running lists the ids with an in-flight execution, sorted.
func (c *Coordinator) Running() []string {
	c.stateMu.Lock()
	out := make([]string, 0, len(c.states))
	for id, st := range c.states {
		if running, _ := st.Running(); running {
			out = append(out, id)
		}
	}
	c.stateMu.Unlock()
	sort.Strings(out)
	return out
}

// InFlight is the number of executions currently running actions.
func (c *Coordinator) InFlight() int { return int(c.inFlight.Load()) }

// Close rejects new executions. In-flight ones continue; use Wait to drain.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Reopen undoes Close (used when the scheduler restarts).
func (c *Coordinator) Reopen() {
	c.mu.Lock()
	c.closed = false
	c.mu.Unlock()
}

// Wait blocks until in-flight executions finish or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns a copy of the execution log, oldest first.
func (c *Coordinator) History() []HistoryItem {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	return append([]HistoryItem(nil), c.history...)
}

func (c *Coordinator) record(item HistoryItem, size int) {
	c.hmu.Lock()
	c.history = append(c.history, item)
	if len(c.history) > size {
		c.history = c.history[len(c.history)-size:]
	}
	c.hmu.Unlock()
}
