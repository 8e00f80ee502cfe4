package slot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localrank/gridrank/internal/hours"
	"github.com/localrank/gridrank/internal/rank"
)

func nineToFive(tz string) rank.HoursConfig {
	days := make(map[time.Weekday]rank.DayHours)
	for d := time.Sunday; d <= time.Saturday; d++ {
		days[d] = rank.DayHours{Open: "09:00", Close: "17:00"}
	}
	return rank.HoursConfig{Timezone: tz, Days: days}
}

func phoenix(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Phoenix")
	require.NoError(t, err)
	return loc
}

func TestClampStaysInsideLeadBound(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	w := rank.Window{Start: start, End: start.Add(8 * time.Hour)}
	lead := 2 * time.Hour
	latest := w.End.Add(-lead)

	for _, candidate := range []time.Time{
		start.Add(-3 * time.Hour),
		start,
		start.Add(4 * time.Hour),
		latest,
		w.End.Add(time.Hour),
	} {
		slot, ok := clampIntoWindow(w, candidate, lead, time.Time{})
		require.True(t, ok)
		require.False(t, slot.Before(w.Start), "slot %v before window start", slot)
		require.False(t, slot.After(latest), "slot %v after lead bound", slot)
	}
}

func TestClampRejectsWindowShorterThanLead(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	w := rank.Window{Start: start, End: start.Add(90 * time.Minute)}

	_, ok := clampIntoWindow(w, start, 2*time.Hour, time.Time{})
	require.False(t, ok)

	// A window exactly as long as the lead leaves no legal instant either.
	w.End = start.Add(2 * time.Hour)
	_, ok = clampIntoWindow(w, start, 2*time.Hour, time.Time{})
	require.False(t, ok)
}

func TestFindNextSlotRespectsLeadOnReferenceDay(t *testing.T) {
	t.Parallel()

	loc := phoenix(t)
	calc := New(hours.New())
	cfg := nineToFive("America/Phoenix")

	// Reference 14:00 with a 2h lead: the last legal start is 15:00, not
	// 17:00 which would violate the lead time.
	reference := time.Date(2025, 3, 10, 14, 0, 0, 0, loc)
	slot, ok, err := calc.FindNextSlot(cfg, reference, 2*time.Hour, 12, 0, DefaultSearchDays)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Date(2025, 3, 10, 15, 0, 0, 0, loc), slot)
}

func TestFindNextSlotRollsToNextDay(t *testing.T) {
	t.Parallel()

	loc := phoenix(t)
	calc := New(hours.New())
	cfg := nineToFive("America/Phoenix")

	// Past the lead bound for today: tomorrow at the target.
	reference := time.Date(2025, 3, 10, 16, 30, 0, 0, loc)
	slot, ok, err := calc.FindNextSlot(cfg, reference, 2*time.Hour, 12, 0, DefaultSearchDays)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Date(2025, 3, 11, 12, 0, 0, 0, loc), slot)
}

func TestFindNextSlotNoWindowFitsLead(t *testing.T) {
	t.Parallel()

	days := make(map[time.Weekday]rank.DayHours)
	for d := time.Sunday; d <= time.Saturday; d++ {
		days[d] = rank.DayHours{Open: "09:00", Close: "10:00"}
	}
	cfg := rank.HoursConfig{Timezone: "UTC", Days: days}

	calc := New(hours.New())
	_, ok, err := calc.FindNextSlot(cfg, time.Now().UTC(), 2*time.Hour, 9, 0, DefaultSearchDays)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidateSlotForDay(t *testing.T) {
	t.Parallel()

	loc := phoenix(t)
	calc := New(hours.New())
	cfg := nineToFive("America/Phoenix")
	reference := time.Date(2025, 3, 10, 8, 0, 0, 0, loc) // a Monday

	ok, err := calc.ValidateSlotForDay(cfg, time.Wednesday, 10, 30, 2*time.Hour, reference)
	require.NoError(t, err)
	require.True(t, ok)

	// 16:00 is inside the window but under two hours from close.
	ok, err = calc.ValidateSlotForDay(cfg, time.Wednesday, 16, 0, 2*time.Hour, reference)
	require.NoError(t, err)
	require.False(t, ok)

	// Before opening.
	ok, err = calc.ValidateSlotForDay(cfg, time.Wednesday, 7, 0, 2*time.Hour, reference)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNextOccurrenceRollsAWeekWhenTooClose(t *testing.T) {
	t.Parallel()

	loc := phoenix(t)
	calc := New(hours.New())
	cfg := nineToFive("America/Phoenix")

	// Monday 11:30 with a Monday 12:00 target and 2h lead: 30 minutes of
	// notice is too close, so the occurrence rolls a week forward.
	reference := time.Date(2025, 3, 10, 11, 30, 0, 0, loc)
	slot, ok, err := calc.NextOccurrence(cfg, reference, time.Monday, 12, 0, 2*time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Date(2025, 3, 17, 12, 0, 0, 0, loc), slot)
}

func TestNextOccurrenceReclampsAgainstWindow(t *testing.T) {
	t.Parallel()

	loc := phoenix(t)
	calc := New(hours.New())
	cfg := nineToFive("America/Phoenix")

	// Target 16:30 lands after the lead bound; it is pulled back to 15:00.
	reference := time.Date(2025, 3, 10, 9, 0, 0, 0, loc)
	slot, ok, err := calc.NextOccurrence(cfg, reference, time.Wednesday, 16, 30, 2*time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Date(2025, 3, 12, 15, 0, 0, 0, loc), slot)
}
