package config

import (
	"reflect"
	"sort"
	"strings"

	logx "mediatasks/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe log
// fields describing them. Action env values are never logged.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.execution_timeout", strings.TrimSpace(newCfg.Scheduler.ExecutionTimeout)),
			logx.Int("scheduler.backoff.after_failures", newCfg.Scheduler.Backoff.AfterFailures),
		)
	}

	if !reflect.DeepEqual(oldCfg.Validator, newCfg.Validator) {
		changed = append(changed, "validator")
		attrs = append(attrs,
			logx.Bool("validator.enabled", newCfg.Validator.Enabled),
			logx.String("validator.schedule", strings.TrimSpace(newCfg.Validator.Schedule)),
			logx.String("validator.orphan_policy", strings.TrimSpace(newCfg.Validator.OrphanPolicy)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if types := diffActions(oldCfg.Actions, newCfg.Actions); len(types) > 0 {
		changed = append(changed, "actions")
		attrs = append(attrs, logx.Strings("actions.changed", types))
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.Addr),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func diffActions(oldM, newM map[string]ActionConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
