// Package hours resolves recurring business-hours config into concrete open
// windows, in the business's own timezone.
package hours

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/localrank/gridrank/internal/rank"
)

// Oracle implements rank.HoursOracle from a weekly recurring config.
type Oracle struct{}

// New creates an Oracle.
func New() *Oracle {
	return &Oracle{}
}

// OpenWindows returns the open windows that start on the given calendar day.
// A window whose close time is at or before its open time wraps past
// midnight and ends on the following day.
func (o *Oracle) OpenWindows(cfg rank.HoursConfig, day time.Time) ([]rank.Window, error) {
	loc, err := location(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	local := day.In(loc)

	dh, ok := cfg.Days[local.Weekday()]
	if !ok || dh.Closed || dh.Open == "" || dh.Close == "" {
		return nil, nil
	}

	openH, openM, err := parseClock(dh.Open)
	if err != nil {
		return nil, fmt.Errorf("parse open time: %w", err)
	}
	closeH, closeM, err := parseClock(dh.Close)
	if err != nil {
		return nil, fmt.Errorf("parse close time: %w", err)
	}

	start := time.Date(local.Year(), local.Month(), local.Day(), openH, openM, 0, 0, loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), closeH, closeM, 0, 0, loc)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return []rank.Window{{Start: start, End: end}}, nil
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// parseClock parses "HH:MM" on a 24-hour clock.
func parseClock(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock time %q", s)
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
