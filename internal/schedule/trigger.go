package schedule

import (
	"fmt"
	"time"
)

// Trigger is a wall-clock time of day in a location.
type Trigger struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// ParseTrigger parses a "HH:MM" time of day and an IANA timezone name.
func ParseTrigger(hhmm, timezone string) (Trigger, error) {
	var t Trigger

	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid time of day %q, expected HH:MM: %w", hhmm, err)
	}

	t.Hour, t.Minute = parsed.Hour(), parsed.Minute()

	t.Location, err = time.LoadLocation(timezone)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	return t, nil
}

// Next returns the first instant strictly after after at which the clock
// in the trigger's location shows the trigger's time of day.
//
// When that time of day doesn't exist on a day, because clocks jump forward,
// the trigger fires at the same distance after the jump (02:30 becomes 03:30).
// When it occurs twice, because clocks jump back, it only fires on the first one.
func (t Trigger) Next(after time.Time) time.Time {
	y, m, d := after.In(t.Location).Date()

	next := t.on(y, m, d)
	if !next.After(after) {
		next = t.on(y, m, d+1)
	}

	return next
}

func (t Trigger) on(y int, m time.Month, d int) time.Time {
	at := time.Date(y, m, d, t.Hour, t.Minute, 0, 0, t.Location)

	// time.Date may resolve a time in a gap to before the gap, compare wall clocks.
	want := time.Date(y, m, d, t.Hour, t.Minute, 0, 0, time.UTC)
	got := time.Date(at.Year(), at.Month(), at.Day(), at.Hour(), at.Minute(), 0, 0, time.UTC)
	if got.Before(want) {
		at = at.Add(want.Sub(got))
	}

	// time.Date may pick the second of two equal wall clocks, look for an
	// earlier one before a backward transition.
	_, offAt := at.Zone()
	_, offBefore := at.Add(-3 * time.Hour).Zone()
	if offBefore > offAt {
		earlier := at.Add(-time.Duration(offBefore-offAt) * time.Second)
		if sameWallClock(earlier, at) {
			at = earlier
		}
	}

	return at
}

func sameWallClock(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd && a.Hour() == b.Hour() && a.Minute() == b.Minute()
}

func (t Trigger) String() string {
	return fmt.Sprintf("%02d:%02d %s", t.Hour, t.Minute, t.Location)
}
