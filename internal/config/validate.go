package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks bounds, durations, enums and the timezone. Schedule specs
// are checked by their consumers.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	s := c.Scheduler
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := ParseTimeoutField("scheduler.execution_timeout", s.ExecutionTimeout, 0); err != nil {
		return err
	}
	if s.HistorySize < 0 {
		return errors.New("scheduler.history_size must be >= 0")
	}
	if s.Backoff.AfterFailures < 0 {
		return errors.New("scheduler.backoff.after_failures must be >= 0")
	}
	base, err := ParseDurationField("scheduler.backoff.base", s.Backoff.Base)
	if err != nil {
		return err
	}
	maxDelay, err := ParseDurationField("scheduler.backoff.max", s.Backoff.Max)
	if err != nil {
		return err
	}
	if base > 0 && maxDelay > 0 && maxDelay < base {
		return errors.New("scheduler.backoff.max must be >= scheduler.backoff.base")
	}

	v := c.Validator
	switch strings.ToLower(strings.TrimSpace(v.Matcher)) {
	case "", "substring", "fuzzy":
	default:
		return fmt.Errorf("validator.matcher: unknown %q (want substring|fuzzy)", v.Matcher)
	}
	switch strings.ToLower(strings.TrimSpace(v.OrphanPolicy)) {
	case "", "delete", "disable":
	default:
		return fmt.Errorf("validator.orphan_policy: unknown %q (want delete|disable)", v.OrphanPolicy)
	}
	if v.FuzzyMinScore < 0 {
		return errors.New("validator.fuzzy_min_score must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory":
	case "file", "json", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required when storage.driver=%s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage.driver: %s", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	for name, a := range c.Actions {
		if strings.TrimSpace(name) == "" {
			return errors.New("actions: empty task type")
		}
		if strings.TrimSpace(a.Command) == "" {
			return fmt.Errorf("actions.%s.command is required", name)
		}
		if a.RatePerSec < 0 || a.Burst < 0 {
			return fmt.Errorf("actions.%s: rate_per_sec and burst must be >= 0", name)
		}
	}
	return nil
}
