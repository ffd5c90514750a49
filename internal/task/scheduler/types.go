package scheduler

import (
	"errors"
	"time"

	"mediatasks/internal/task"
	"mediatasks/internal/task/engine"
	"mediatasks/internal/task/timers"
)

var ErrNotReady = errors.New("scheduler not initialized")

// Config controls the facade.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty = Local

	// Engine is applied to the execution coordinator; Location is filled from Timezone.
	Engine engine.Config

	Validator ValidatorConfig
}

// ValidatorConfig controls the periodic association validation job.
type ValidatorConfig struct {
	Enabled       bool
	Schedule      string // job spec: cron, "@every 6h", "6h", "06:00"
	Matcher       string // substring | fuzzy
	FuzzyMinScore int
	OrphanPolicy  string // delete | disable
}

// State is the facade lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// RunResult is returned by RunTaskNow.
type RunResult struct {
	Success       bool           `json:"success"`
	Message       string         `json:"message"`
	LastRunStatus task.RunStatus `json:"last_run_status,omitempty"`
	NextRun       time.Time      `json:"next_run,omitempty"`
	Duration      time.Duration  `json:"duration,omitempty"`
}

// Status is a point-in-time view for operators.
type Status struct {
	Initialized    bool                 `json:"initialized"`
	State          string               `json:"state"`
	Timezone       string               `json:"timezone"`
	RunningTaskIDs []string             `json:"running_task_ids"`
	Timers         []timers.Entry       `json:"timers"`
	// Planned lists computed fire times of enabled tasks while no timers are
	// armed (before Initialize). Computing them writes nothing.
	Planned        []timers.Entry       `json:"planned,omitempty"`
	TotalTasks     int                  `json:"total_tasks"`
	EnabledTasks   int                  `json:"enabled_tasks"`
	Validator      *JobInfo             `json:"validator,omitempty"`
	History        []engine.HistoryItem `json:"history"`
}

// JobInfo describes a background cron job.
type JobInfo struct {
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitempty"`
	Prev time.Time `json:"prev,omitempty"`
}

// ReconcileReport is returned by ReconcileTimers.
type ReconcileReport struct {
	Missing    []string `json:"missing"`
	Orphaned   []string `json:"orphaned"`
	Registered int      `json:"registered"`
}
