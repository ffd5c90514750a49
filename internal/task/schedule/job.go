package schedule

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// JobKind is the normalized kind of a background job spec.
type JobKind int

const (
	JobCron JobKind = iota
	JobInterval
)

// JobSpec is a parsed background job schedule (e.g. the periodic validator pass).
//
// Unlike task schedules, job specs accept full cron expressions:
//   - Cron: "*/5 * * * *", "0 3 * * *", "@daily", "@every 6h"
//   - Interval duration: "6h", "cron:" / "interval:" / "every:" prefixes force a kind
//   - Interval HH:MM: "06:00" (6 hours)
type JobSpec struct {
	Kind   JobKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

func (j JobSpec) String() string {
	if j.Kind == JobInterval {
		return "@every " + j.Every.String()
	}
	return j.Cron
}

// JobParser accepts 5- and 6-field cron specs plus descriptors.
var JobParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseJob parses a job spec string into either a cron expression or an interval.
func ParseJob(raw string) (JobSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return JobSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return JobSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return checkCron(JobSpec{Kind: JobCron, Cron: expr, Source: "cron"})
	}
	for _, p := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, p) {
			return intervalJob(s[len(p):])
		}
	}

	// whitespace or a leading '@' means cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return checkCron(JobSpec{Kind: JobCron, Cron: s, Source: "cron"})
	}
	if j, err := intervalJob(s); err == nil {
		return j, nil
	}
	return JobSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '0 3 * * *', HH:MM like '06:00', or duration like '6h')",
		raw,
	)
}

func intervalJob(v string) (JobSpec, error) {
	v = strings.TrimSpace(v)
	src := "duration"
	if reHHMM.MatchString(v) {
		src = "hhmm"
	}
	d, err := parseInterval(v)
	if err != nil {
		return JobSpec{}, err
	}
	return JobSpec{Kind: JobInterval, Every: d, Source: src}, nil
}

func checkCron(j JobSpec) (JobSpec, error) {
	if _, err := JobParser.Parse(j.Cron); err != nil {
		return JobSpec{}, fmt.Errorf("invalid cron %q: %w", j.Cron, err)
	}
	return j, nil
}

const maxStartupSpread = 30 * time.Second

// Schedule builds the cron.Schedule for j. Interval jobs get a random startup
// spread (bounded by the interval and maxStartupSpread) on their first run so
// several jobs registered together do not fire in the same instant.
func (j JobSpec) Schedule(now time.Time, tag string) (cron.Schedule, time.Duration, error) {
	switch j.Kind {
	case JobInterval:
		s, jitter := intervalWithSpread(j.Every, now, tag)
		return s, jitter, nil
	case JobCron:
		s, err := JobParser.Parse(j.Cron)
		return s, 0, err
	default:
		return nil, 0, fmt.Errorf("unsupported job kind %d", j.Kind)
	}
}

// spreadSchedule overrides the first run time, then delegates to base.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var spreadSeq uint64

func intervalWithSpread(every time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spreadMax := every
	if spreadMax > maxStartupSpread {
		spreadMax = maxStartupSpread
	}
	if spreadMax <= 0 {
		return base, 0
	}

	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(fnv64a(tag))
	rng := rand.New(rand.NewSource(seed))
	jitter := time.Duration(rng.Int63n(int64(spreadMax)))
	return &spreadSchedule{base: base, first: now.Add(every + jitter)}, jitter
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
