package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"mediatasks/internal/task"
)

// slotParser parses the 5-field specs generated for weekly slots.
var slotParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Calculator computes next fire times. Location defaults to time.Local.
type Calculator struct {
	Location *time.Location
}

func (c Calculator) loc() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// NextRun returns the soonest instant strictly after now matching s.
//
// A weekly slot equal to now counts as passed and yields the same slot next week.
func (c Calculator) NextRun(s task.Schedule, now time.Time) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}
	switch s.Kind {
	case task.ScheduleInterval:
		return now.Add(s.Every), nil
	case task.ScheduleWeekly:
		sched, err := WeeklySlot(s)
		if err != nil {
			return time.Time{}, err
		}
		next := sched.Next(now.In(c.loc()))
		if next.IsZero() || !next.After(now) {
			return time.Time{}, fmt.Errorf("no slot after %s for %s", now.Format(time.RFC3339), s)
		}
		return next, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported schedule kind %q", s.Kind)
	}
}

// NextRun is Calculator{}.NextRun in the local timezone.
func NextRun(s task.Schedule, now time.Time) (time.Time, error) {
	return Calculator{}.NextRun(s, now)
}

// WeeklySlot converts a weekly schedule into a cron spec schedule ("m h * * dow").
// The returned schedule evaluates in the location of the time passed to Next.
func WeeklySlot(s task.Schedule) (cron.Schedule, error) {
	if s.Kind != task.ScheduleWeekly {
		return nil, fmt.Errorf("not a weekly schedule: %s", s)
	}
	spec := fmt.Sprintf("%d %d * * %d", s.Minute, s.Hour, int(s.Weekday))
	return slotParser.Parse(spec)
}

// Preview lists the next n fire times after now, for diagnostics.
func (c Calculator) Preview(s task.Schedule, now time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	t := now
	for i := 0; i < n; i++ {
		next, err := c.NextRun(s, t)
		if err != nil {
			break
		}
		out = append(out, next)
		t = next
	}
	return out
}

// Consistent reports whether a stored next run could have been produced by s:
// it lies after now, no later than the slot NextRunAfterFailures would pick
// now, and for weekly schedules on one of the schedule's slots.
func (c Calculator) Consistent(s task.Schedule, next, now time.Time, failures int, b Backoff) bool {
	if !next.After(now) {
		return false
	}
	bound, err := c.NextRunAfterFailures(s, now, failures, b)
	if err != nil || next.After(bound) {
		return false
	}
	if s.Kind == task.ScheduleWeekly {
		slot, err := c.NextRun(s, next.Add(-time.Minute))
		return err == nil && slot.Equal(next)
	}
	return true
}
