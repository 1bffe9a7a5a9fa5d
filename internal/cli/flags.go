package cli

import (
	"fmt"
	"time"
)

// parseTimeFlag accepts an RFC3339 timestamp or a positive duration meaning
// "that long before now" (e.g. 72h). An empty value yields nil.
func parseTimeFlag(name, value string, now time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return &ts, nil
	}
	ago, err := time.ParseDuration(value)
	if err != nil || ago <= 0 {
		return nil, fmt.Errorf("invalid --%s value %q: want RFC3339 or a positive duration", name, value)
	}
	ts := now.Add(-ago)
	return &ts, nil
}
