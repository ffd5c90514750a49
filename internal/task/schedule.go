package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScheduleKind is the tag of the Schedule variant.
type ScheduleKind string

const (
	ScheduleWeekly   ScheduleKind = "weekly"
	ScheduleInterval ScheduleKind = "interval"
)

// Schedule is either a weekday+time-of-day pair or a fixed interval.
//
// Only the schedule calculator interprets it; everything else treats it as opaque.
type Schedule struct {
	Kind    ScheduleKind
	Weekday time.Weekday
	Hour    int
	Minute  int
	Every   time.Duration
}

// Weekly builds a weekday+time schedule.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return Schedule{Kind: ScheduleWeekly, Weekday: day, Hour: hour, Minute: minute}
}

// Interval builds a fixed-interval schedule.
func Interval(every time.Duration) Schedule {
	return Schedule{Kind: ScheduleInterval, Every: every}
}

func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleWeekly:
		if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
			return fmt.Errorf("invalid weekday %d", s.Weekday)
		}
		if s.Hour < 0 || s.Hour > 23 {
			return fmt.Errorf("invalid hour %d", s.Hour)
		}
		if s.Minute < 0 || s.Minute > 59 {
			return fmt.Errorf("invalid minute %d", s.Minute)
		}
		return nil
	case ScheduleInterval:
		if s.Every <= 0 {
			return errors.New("interval must be > 0")
		}
		return nil
	case "":
		return errors.New("schedule required")
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// Clock returns the HH:MM time-of-day of a weekly schedule.
func (s Schedule) Clock() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

func (s Schedule) String() string {
	switch s.Kind {
	case ScheduleWeekly:
		return strings.ToLower(s.Weekday.String()[:3]) + " " + s.Clock()
	case ScheduleInterval:
		return "every " + s.Every.String()
	default:
		return "<none>"
	}
}

type scheduleJSON struct {
	Kind    ScheduleKind `json:"kind"`
	Weekday string       `json:"weekday,omitempty"`
	Time    string       `json:"time,omitempty"`
	Every   string       `json:"every,omitempty"`
}

func (s Schedule) MarshalJSON() ([]byte, error) {
	out := scheduleJSON{Kind: s.Kind}
	switch s.Kind {
	case ScheduleWeekly:
		out.Weekday = strings.ToLower(s.Weekday.String())
		out.Time = s.Clock()
	case ScheduleInterval:
		out.Every = s.Every.String()
	}
	return json.Marshal(out)
}

func (s *Schedule) UnmarshalJSON(b []byte) error {
	var in scheduleJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch in.Kind {
	case ScheduleWeekly:
		day, err := ParseWeekday(in.Weekday)
		if err != nil {
			return err
		}
		h, m, err := ParseClock(in.Time)
		if err != nil {
			return err
		}
		*s = Weekly(day, h, m)
	case ScheduleInterval:
		d, err := time.ParseDuration(strings.TrimSpace(in.Every))
		if err != nil {
			return fmt.Errorf("invalid interval %q: %w", in.Every, err)
		}
		*s = Interval(d)
	case "":
		*s = Schedule{}
	default:
		return fmt.Errorf("unknown schedule kind %q", in.Kind)
	}
	return nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts English day names/abbreviations or 0..6 (Sunday=0).
func ParseWeekday(s string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if d, ok := weekdays[v]; ok {
		return d, nil
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// ParseClock parses a 24h "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
