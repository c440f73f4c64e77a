package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseTimeFlag accepts RFC3339, unix milliseconds, "now", or a duration
// such as 36h meaning that long before now.
func parseTimeFlag(name, value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, "now") {
		return now.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if d, err := time.ParseDuration(strings.TrimPrefix(value, "-")); err == nil && d > 0 {
		return now.Add(-d).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid --%s value %q: want RFC3339, unix ms, now or a duration ago", name, value)
}

// optionalTime parses value when set and returns nil otherwise.
func optionalTime(name, value string, now time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := parseTimeFlag(name, value, now)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
