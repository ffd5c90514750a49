package engine

import (
	"context"
	"sync"
	"time"

	"mediatasks/internal/task"
	"mediatasks/internal/task/schedule"
)

// Config controls the execution coordinator.
type Config struct {
	// Timeout is the execution deadline of one action run.
	// 0 applies DefaultTimeout; < 0 disables the deadline.
	Timeout time.Duration

	HistorySize int

	// Backoff delays the next run of repeatedly failing tasks.
	Backoff schedule.Backoff

	// Location is the timezone weekly slots are evaluated in (nil = Local).
	Location *time.Location
}

const (
	DefaultTimeout     = 30 * time.Minute
	defaultHistorySize = 200
	persistTimeout     = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	return c
}

// Request is what an Action receives for one execution.
type Request struct {
	TaskID    string
	ItemID    string
	ItemTitle string
	Type      task.Type
	Trigger   task.Trigger
}

// Outcome is the action's verdict. Error is recorded verbatim in LastRunError.
type Outcome struct {
	Success bool
	Error   string
}

// Action performs the maintenance work for a task (re-scrape, episode update...).
//
// Implementations should honor ctx; the coordinator stops waiting at the
// execution deadline either way.
type Action interface {
	Run(ctx context.Context, req Request) Outcome
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, req Request) Outcome

func (f ActionFunc) Run(ctx context.Context, req Request) Outcome { return f(ctx, req) }

// Armer owns the timers. The coordinator calls it, while holding the task's
// key lock, after run history has been persisted.
type Armer interface {
	Arm(t task.ScheduledTask)
	Disarm(taskID string)
}

// Result describes one Execute call.
type Result struct {
	TaskID   string
	Trigger  task.Trigger
	Started  time.Time
	Duration time.Duration
	Status   task.RunStatus
	Error    string
	NextRun  time.Time

	// Discarded is set when the task was deleted while the action ran;
	// nothing was written.
	Discarded bool
	// Rearmed reports whether a timer was re-registered for NextRun.
	Rearmed bool
}

// HistoryItem is one entry of the in-memory execution log.
type HistoryItem struct {
	TaskID   string         `json:"task_id"`
	Name     string         `json:"name"`
	Trigger  task.Trigger   `json:"trigger"`
	Started  time.Time      `json:"started"`
	Duration time.Duration  `json:"duration"`
	Status   task.RunStatus `json:"status"`
	Error    string         `json:"error,omitempty"`
}

// RunState is the single-flight lock of one task id.
type RunState struct {
	mu       sync.Mutex
	inflight bool
	since    time.Time
}

// TryAcquire takes the lock without blocking.
func (s *RunState) TryAcquire(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	s.since = now
	return true
}

func (s *RunState) Release() {
	s.mu.Lock()
	s.inflight = false
	s.since = time.Time{}
	s.mu.Unlock()
}

// Running reports whether the lock is held and since when.
func (s *RunState) Running() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight, s.since
}
