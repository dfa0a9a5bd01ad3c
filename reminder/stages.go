package reminder

import (
	"time"

	"sneakerdrop-notifier/pkg/notifier"
)

// Clock supplies the current time. Tests inject fixed clocks.
type Clock func() time.Time

// SystemClock returns wall-clock time in loc (UTC when loc is nil).
func SystemClock(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return func() time.Time {
		return time.Now().In(loc)
	}
}

// MinutesLeft is the whole number of minutes until dropTime, truncated toward zero.
func MinutesLeft(now, dropTime time.Time) int {
	return int(dropTime.Sub(now).Seconds() / 60)
}

// DueStages returns the stages whose one-minute window contains now.
//
// A stage S is due when S <= minutesLeft < S+1. The windows are disjoint so at
// most one stage is returned. A drop at or before now has no due stages. When the
// trigger misses an entire window (a gap longer than a minute) that stage is never
// reported; the engine does not catch up on missed stages.
func DueStages(now, dropTime time.Time) []notifier.Stage {
	if !dropTime.After(now) {
		return nil
	}

	left := MinutesLeft(now, dropTime)

	var due []notifier.Stage
	for _, stage := range notifier.ActiveStages {
		m := stage.Minutes()
		if m <= left && left < m+1 {
			due = append(due, stage)
		}
	}
	return due
}
