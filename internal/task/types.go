package task

import (
	"strings"
	"time"
)

// Type identifies which maintenance action a task triggers.
type Type string

const (
	TypeEpisodeUpdate   Type = "episode-update"
	TypeMetadataRefresh Type = "metadata-refresh"
)

// RunStatus is the outcome of the most recent execution.
type RunStatus string

const (
	StatusNever   RunStatus = "never"
	StatusSuccess RunStatus = "success"
	StatusFailure RunStatus = "failure"
)

// Trigger tells the engine why an execution started.
type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerManual Trigger = "manual"
)

// ScheduledTask is a persisted recurring maintenance action against one tracked item.
//
// Identity fields (ID, CreatedAt) never change after creation. Run history
// (LastRun, LastRunStatus, LastRunError, ConsecutiveFailures) is written only by
// the execution engine. IsRunning is transient and never persisted.
type ScheduledTask struct {
	ID        string   `json:"id"`
	ItemID    string   `json:"item_id"`
	ItemTitle string   `json:"item_title"`
	Name      string   `json:"name"`
	Type      Type     `json:"type"`
	Schedule  Schedule `json:"schedule"`
	Enabled   bool     `json:"enabled"`

	NextRun             time.Time `json:"next_run,omitempty"`
	LastRun             time.Time `json:"last_run,omitempty"`
	LastRunStatus       RunStatus `json:"last_run_status"`
	LastRunError        string    `json:"last_run_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures,omitempty"`

	IsRunning bool `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item is a tracked media entity as seen by this subsystem (read-only).
type Item struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Normalize trims user-provided strings and fills defaults for a new record.
func (t *ScheduledTask) Normalize(now time.Time) {
	t.ID = strings.TrimSpace(t.ID)
	t.ItemID = strings.TrimSpace(t.ItemID)
	t.ItemTitle = strings.TrimSpace(t.ItemTitle)
	t.Name = strings.TrimSpace(t.Name)
	t.Type = Type(strings.TrimSpace(string(t.Type)))
	if t.LastRunStatus == "" {
		t.LastRunStatus = StatusNever
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}

// Validate rejects malformed task writes before they reach the scheduler.
func (t ScheduledTask) Validate() error {
	switch {
	case strings.TrimSpace(t.ID) == "":
		return Validation("id", "required")
	case strings.TrimSpace(t.ItemID) == "":
		return Validation("item_id", "required")
	case strings.TrimSpace(t.Name) == "":
		return Validation("name", "required")
	case strings.TrimSpace(string(t.Type)) == "":
		return Validation("type", "required")
	}
	if err := t.Schedule.Validate(); err != nil {
		return Validation("schedule", err.Error())
	}
	return nil
}
