// Package slot computes legal run instants inside business open windows.
//
// One clamping primitive backs every decision here so "is this time legal"
// and "pick the next time" can never drift apart.
package slot

import (
	"time"

	"github.com/localrank/gridrank/internal/rank"
)

// DefaultSearchDays bounds the forward scan for the next legal slot.
const DefaultSearchDays = 14

// Calculator resolves schedule targets against business open windows.
type Calculator struct {
	oracle rank.HoursOracle
}

// New creates a Calculator.
func New(oracle rank.HoursOracle) *Calculator {
	return &Calculator{oracle: oracle}
}

// clampIntoWindow is the single clamping primitive. It places candidate into
// [window start, window end - minLead], raising it to notBefore first when
// set. Returns false when the window is too short to honor the lead time.
func clampIntoWindow(w rank.Window, candidate time.Time, minLead time.Duration, notBefore time.Time) (time.Time, bool) {
	latest := w.End.Add(-minLead)
	if !latest.After(w.Start) {
		return time.Time{}, false
	}
	t := candidate
	if t.Before(w.Start) {
		t = w.Start
	}
	if !notBefore.IsZero() && t.Before(notBefore) {
		t = notBefore
	}
	if t.After(latest) {
		t = latest
	}
	return t, true
}

// FindNextSlot scans forward day by day and returns the first instant
// strictly after reference where a run targeting hour:minute can legally
// start. On the reference day the candidate is additionally clamped against
// reference+minLead. Returns false when no window in the horizon fits.
func (c *Calculator) FindNextSlot(
	cfg rank.HoursConfig,
	reference time.Time,
	minLead time.Duration,
	targetHour, targetMinute int,
	searchDays int,
) (time.Time, bool, error) {
	if searchDays <= 0 {
		searchDays = DefaultSearchDays
	}
	for i := 0; i < searchDays; i++ {
		day := reference.AddDate(0, 0, i)
		windows, err := c.oracle.OpenWindows(cfg, day)
		if err != nil {
			return time.Time{}, false, err
		}
		for _, w := range windows {
			y, m, d := w.Start.Date()
			candidate := time.Date(y, m, d, targetHour, targetMinute, 0, 0, w.Start.Location())
			var notBefore time.Time
			if i == 0 {
				notBefore = reference.Add(minLead)
			}
			slot, ok := clampIntoWindow(w, candidate, minLead, notBefore)
			if ok && slot.After(reference) {
				return slot, true, nil
			}
		}
	}
	return time.Time{}, false, nil
}

// ValidateSlotForDay reports whether a fixed hour:minute is itself a legal
// start on the next occurrence of weekday: inside the window and at least
// minLead before it closes.
func (c *Calculator) ValidateSlotForDay(
	cfg rank.HoursConfig,
	weekday time.Weekday,
	hour, minute int,
	minLead time.Duration,
	reference time.Time,
) (bool, error) {
	for i := 0; i < 7; i++ {
		day := reference.AddDate(0, 0, i)
		windows, err := c.oracle.OpenWindows(cfg, day)
		if err != nil {
			return false, err
		}
		for _, w := range windows {
			if w.Start.Weekday() != weekday {
				continue
			}
			y, m, d := w.Start.Date()
			candidate := time.Date(y, m, d, hour, minute, 0, 0, w.Start.Location())
			slot, ok := clampIntoWindow(w, candidate, minLead, time.Time{})
			return ok && slot.Equal(candidate), nil
		}
	}
	return false, nil
}

// NextOccurrence computes the next calendar occurrence of weekday at
// hour:minute, rolling a week forward when the nearest one is less than
// minLead away, then re-clamps it against that day's current window.
// Returns false when the hosting day has no window that fits; callers fall
// back to a fresh FindNextSlot search.
func (c *Calculator) NextOccurrence(
	cfg rank.HoursConfig,
	reference time.Time,
	weekday time.Weekday,
	hour, minute int,
	minLead time.Duration,
) (time.Time, bool, error) {
	// 15 days covers the occurrence plus one week of roll-forward.
	for i := 0; i < 15; i++ {
		day := reference.AddDate(0, 0, i)
		windows, err := c.oracle.OpenWindows(cfg, day)
		if err != nil {
			return time.Time{}, false, err
		}
		for _, w := range windows {
			if w.Start.Weekday() != weekday {
				continue
			}
			y, m, d := w.Start.Date()
			candidate := time.Date(y, m, d, hour, minute, 0, 0, w.Start.Location())
			if candidate.Sub(reference) < minLead {
				// Too close; the scan picks up next week's occurrence.
				continue
			}
			slot, ok := clampIntoWindow(w, candidate, minLead, time.Time{})
			if ok && slot.After(reference) {
				return slot, true, nil
			}
			return time.Time{}, false, nil
		}
	}
	return time.Time{}, false, nil
}
