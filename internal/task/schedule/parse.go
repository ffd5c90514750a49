package schedule

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"mediatasks/internal/task"
)

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reDayClock = regexp.MustCompile(`^\s*([A-Za-z]+|\d)\s*(?:@|\s)\s*(\d{1,2}:\d{2})\s*$`)
)

// Parse parses the text form of a task schedule.
//
// Supported forms:
//   - Weekly: "mon 09:00", "monday@09:00", "weekly:fri 18:30"
//   - Interval duration: "24h", "90m", "every:24h"
//   - Interval HH:MM: "01:30" (1 hour 30 minutes), "interval:01:30"
func Parse(raw string) (task.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return task.Schedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "weekly:"):
		return parseWeekly(strings.TrimSpace(s[len("weekly:"):]))
	case strings.HasPrefix(low, "interval:"):
		d, err := parseInterval(s[len("interval:"):])
		if err != nil {
			return task.Schedule{}, err
		}
		return task.Interval(d), nil
	case strings.HasPrefix(low, "every:"):
		d, err := parseInterval(s[len("every:"):])
		if err != nil {
			return task.Schedule{}, err
		}
		return task.Interval(d), nil
	}

	if reDayClock.MatchString(s) {
		return parseWeekly(s)
	}
	if d, err := parseInterval(s); err == nil {
		return task.Interval(d), nil
	}
	return task.Schedule{}, fmt.Errorf(
		"invalid schedule %q (use weekday+time like 'mon 09:00', HH:MM like '02:30', or duration like '24h')",
		raw,
	)
}

func parseWeekly(v string) (task.Schedule, error) {
	m := reDayClock.FindStringSubmatch(v)
	if len(m) != 3 {
		return task.Schedule{}, fmt.Errorf("invalid weekly schedule %q (want 'mon 09:00')", v)
	}
	day, err := task.ParseWeekday(m[1])
	if err != nil {
		return task.Schedule{}, err
	}
	h, mm, err := task.ParseClock(m[2])
	if err != nil {
		return task.Schedule{}, err
	}
	return task.Weekly(day, h, mm), nil
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		return parseHHMMDuration(v)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	// hours up to 999, minutes 0..59
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
