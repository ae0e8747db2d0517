package watch

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// FormatInterval renders a poll or template interval, largest unit first:
// 45s, 5m, 1h30m, 1d12h. Units below the second-largest are dropped.
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	units := []struct {
		size   time.Duration
		suffix string
	}{{day, "d"}, {time.Hour, "h"}, {time.Minute, "m"}}

	var b strings.Builder
	parts := 0
	for _, u := range units {
		n := d / u.size
		if n == 0 && parts == 0 {
			continue
		}
		if n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.suffix)
		}
		d -= n * u.size
		if parts++; parts == 2 {
			break
		}
	}
	return b.String()
}

// ParseInterval accepts Go durations, a day prefix ("7d", "1d12h") or a bare
// number of minutes ("90"). Negative intervals are rejected.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty interval (examples: 30m, 1h, 7d, 90)")
	}
	if mins, err := strconv.Atoi(s); err == nil {
		return checkInterval(s, time.Duration(mins)*time.Minute)
	}
	if d, err := time.ParseDuration(s); err == nil {
		return checkInterval(s, d)
	}

	daysPart, rest, ok := strings.Cut(s, "d")
	days, err := strconv.Atoi(daysPart)
	if !ok || err != nil {
		return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 7d, 90)", s)
	}
	d := time.Duration(days) * day
	if rest != "" {
		extra, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid interval format: %s", s)
		}
		d += extra
	}
	return checkInterval(s, d)
}

func checkInterval(raw string, d time.Duration) (time.Duration, error) {
	if d < 0 {
		return 0, fmt.Errorf("interval must not be negative: %s", raw)
	}
	return d, nil
}

// IntervalMinutes parses an interval and truncates it to whole minutes, the
// granularity sources and templates are scheduled at
func IntervalMinutes(s string) (int, error) {
	d, err := ParseInterval(s)
	if err != nil {
		return 0, err
	}
	return int(d / time.Minute), nil
}
