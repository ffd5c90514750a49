package config

// Config is the root of config.yaml / config.json.
//
// Durations are Go duration strings ("30m", "10s"). Unknown keys are rejected.
type Config struct {
	Logging   LoggingConfig           `json:"logging"`
	Scheduler SchedulerConfig         `json:"scheduler"`
	Validator ValidatorConfig         `json:"validator"`
	Storage   StorageConfig           `json:"storage"`
	Actions   map[string]ActionConfig `json:"actions,omitempty"`
	Metrics   MetricsConfig           `json:"metrics,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls timers and execution.
//
// Defaults (when fields are omitted/zero):
//   - execution_timeout: "30m" ("-1s" disables the deadline)
//   - history_size: 200
//   - backoff: disabled (after_failures 0)
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // IANA name; empty = Local

	ExecutionTimeout string        `json:"execution_timeout,omitempty"`
	HistorySize      int           `json:"history_size,omitempty"`
	Backoff          BackoffConfig `json:"backoff,omitempty"`
}

// BackoffConfig delays the next run of a task that keeps failing:
// after AfterFailures consecutive failures the next slot is searched from
// now + min(base*2^(n-after), max).
type BackoffConfig struct {
	AfterFailures int    `json:"after_failures,omitempty"`
	Base          string `json:"base,omitempty"`
	Max           string `json:"max,omitempty"`
}

// ValidatorConfig controls the association validator and its periodic job.
type ValidatorConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule accepts cron ("0 4 * * *", "@daily"), a duration ("6h") or HH:MM.
	Schedule      string `json:"schedule,omitempty"`
	Matcher       string `json:"matcher,omitempty"` // substring (default) | fuzzy
	FuzzyMinScore int    `json:"fuzzy_min_score,omitempty"`
	OrphanPolicy  string `json:"orphan_policy,omitempty"` // delete (default) | disable
}

// StorageConfig selects the task/item store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./mediatasks.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory | file | sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ActionConfig maps one task type to a command. Args may use {task_id},
// {item_id}, {item_title}, {type} and {trigger}.
type ActionConfig struct {
	Command    string   `json:"command"`
	Args       []string `json:"args,omitempty"`
	Env        []string `json:"env,omitempty"`
	Dir        string   `json:"dir,omitempty"`
	RatePerSec float64  `json:"rate_per_sec,omitempty"`
	Burst      int      `json:"burst,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint. Prefer a loopback address.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	// Pprof mounts /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
	// Token gates /metrics and pprof when set (Bearer header or ?token=).
	Token string `json:"token,omitempty"`
}
