package schedule

import (
	"errors"
	"fmt"
	"time"
)

// ErrClockUnavailable is returned when the current time can't be determined.
var ErrClockUnavailable = errors.New("clock unavailable")

// Clock provides the current time and timers.
type Clock interface {
	Now() (time.Time, error)
	After(d time.Duration) <-chan time.Time
}

// minValidTime is used to detect clocks that were never set.
var minValidTime = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// SystemClock is the Clock of the machine.
type SystemClock struct{}

func (SystemClock) Now() (time.Time, error) {
	now := time.Now()
	if now.Before(minValidTime) {
		return time.Time{}, fmt.Errorf("system clock reports %v", now)
	}
	return now, nil
}

func (SystemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
