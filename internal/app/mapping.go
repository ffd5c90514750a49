package app

import (
	"fmt"
	"strings"
	"time"

	"mediatasks/internal/action"
	"mediatasks/internal/config"
	"mediatasks/internal/storage"
	"mediatasks/internal/task/engine"
	"mediatasks/internal/task/schedule"
	"mediatasks/internal/task/scheduler"
	logx "mediatasks/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	out := storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path)}
	if driver == "sqlite" || driver == "sqlite3" {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	timeout, err := config.ParseTimeoutField("scheduler.execution_timeout", sc.ExecutionTimeout, engine.DefaultTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	base, err := config.ParseDurationField("scheduler.backoff.base", sc.Backoff.Base)
	if err != nil {
		return scheduler.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("scheduler.backoff.max", sc.Backoff.Max)
	if err != nil {
		return scheduler.Config{}, err
	}

	vc := cfg.Validator
	if vc.Enabled && strings.TrimSpace(vc.Schedule) != "" {
		if _, err := schedule.ParseJob(vc.Schedule); err != nil {
			return scheduler.Config{}, fmt.Errorf("validator.schedule: %w", err)
		}
	}

	return scheduler.Config{
		Enabled:  sc.Enabled,
		Timezone: strings.TrimSpace(sc.Timezone),
		Engine: engine.Config{
			Timeout:     timeout,
			HistorySize: sc.HistorySize,
			Backoff: schedule.Backoff{
				AfterFailures: sc.Backoff.AfterFailures,
				Base:          base,
				Max:           maxDelay,
			},
		},
		Validator: scheduler.ValidatorConfig{
			Enabled:       vc.Enabled,
			Schedule:      strings.TrimSpace(vc.Schedule),
			Matcher:       vc.Matcher,
			FuzzyMinScore: vc.FuzzyMinScore,
			OrphanPolicy:  vc.OrphanPolicy,
		},
	}, nil
}

func mapActionConfigs(cfg *config.Config) map[string]action.Config {
	out := make(map[string]action.Config, len(cfg.Actions))
	for name, a := range cfg.Actions {
		out[strings.TrimSpace(name)] = action.Config{
			Command:    a.Command,
			Args:       a.Args,
			Env:        a.Env,
			Dir:        a.Dir,
			RatePerSec: a.RatePerSec,
			Burst:      a.Burst,
		}
	}
	return out
}
