package schedule

import (
	"time"

	"mediatasks/internal/task"
)

// Backoff delays the next run of a repeatedly failing task.
//
// The first AfterFailures consecutive failures keep the regular cadence. Each
// failure beyond that doubles the delay, starting at Base and capped at Max.
// A zero value disables backoff.
type Backoff struct {
	AfterFailures int
	Base          time.Duration
	Max           time.Duration
}

// Enabled reports whether the policy ever delays anything.
func (b Backoff) Enabled() bool {
	return b.AfterFailures > 0 && b.Base > 0
}

// Delay returns the extra delay for the given consecutive failure count.
func (b Backoff) Delay(failures int) time.Duration {
	if !b.Enabled() || failures < b.AfterFailures {
		return 0
	}
	d := b.Base
	for i := b.AfterFailures; i < failures; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
		if d <= 0 { // overflow
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// NextRunAfterFailures computes the next run for a task with the given failure
// streak: the regular slot after now, or after now+Delay while backing off.
func (c Calculator) NextRunAfterFailures(s task.Schedule, now time.Time, failures int, b Backoff) (time.Time, error) {
	return c.NextRun(s, now.Add(b.Delay(failures)))
}
