package eventbus

import "time"

// Event types published by the scheduler subsystem.
const (
	TaskStarted   = "task.started"
	TaskFinished  = "task.finished"
	TaskFailed    = "task.failed"
	TaskSkipped   = "task.skipped"   // run-lock held by another execution
	TaskDiscarded = "task.discarded" // task deleted while its execution was in flight
	TimerArmed    = "timer.armed"
	TimerDisarmed = "timer.disarmed"
	ValidatorRun  = "validator.run"
)

// TaskEvent is the payload of task.* events.
type TaskEvent struct {
	TaskID   string        `json:"task_id"`
	Name     string        `json:"name,omitempty"`
	Type     string        `json:"type,omitempty"`
	Trigger  string        `json:"trigger,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
	NextRun  time.Time     `json:"next_run,omitempty"`
}

// TimerEvent is the payload of timer.* events.
type TimerEvent struct {
	TaskID string    `json:"task_id"`
	FireAt time.Time `json:"fire_at,omitempty"`
}

// ValidatorEvent is the payload of validator.run.
type ValidatorEvent struct {
	Total    int           `json:"total"`
	Invalid  int           `json:"invalid"`
	Fixed    int           `json:"fixed"`
	Deleted  int           `json:"deleted"`
	Disabled int           `json:"disabled"`
	Took     time.Duration `json:"took"`
}
