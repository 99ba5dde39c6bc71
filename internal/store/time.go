package store

import (
	"fmt"
	"time"
)

// formatSQLiteTime is the form every timestamp is written in.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseSQLiteTime reads a timestamp column. Besides what formatSQLiteTime
// writes it accepts the driver's own layout, which is what a DATETIME
// column comes back as when it holds a time.Time. Times without a zone are
// UTC.
func parseSQLiteTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, f := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05.999999999", s, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unable to parse time: %q", s)
}
