// Package timeutil computes business-hours and night-mode windows for the
// sales assistant. All decisions use a fixed UTC-3 offset (Argentina has no
// daylight saving), so results are stable regardless of host timezone.
package timeutil

import "time"

// Fixed local zone for all customer-facing time decisions.
var ZoneAR = time.FixedZone("ART", -3*60*60)

// Business window boundaries in local hours.
const (
	BusinessOpenHour  = 9
	BusinessCloseHour = 21
	DeepNightEndHour  = 7
)

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FixedClock returns a constant instant; test helper.
type FixedClock struct{ T time.Time }

func (f FixedClock) Now() time.Time { return f.T }

// IsBusinessHours reports whether t falls inside the attended window
// (09:00–20:59 local).
func IsBusinessHours(t time.Time) bool {
	h := t.In(ZoneAR).Hour()
	return h >= BusinessOpenHour && h < BusinessCloseHour
}

// IsDeepNight reports whether t falls in the silent window (00:00–06:59
// local) when the bot should neither nudge nor simulate typing.
func IsDeepNight(t time.Time) bool {
	h := t.In(ZoneAR).Hour()
	return h < DeepNightEndHour
}

// ResponseDelay returns the simulated human response latency for a message
// sent at t. Replies are slower outside the attended window so the bot does
// not look like a machine answering at 3am.
func ResponseDelay(t time.Time) time.Duration {
	switch {
	case IsDeepNight(t):
		return 45 * time.Second
	case IsBusinessHours(t):
		return 4 * time.Second
	default:
		return 15 * time.Second
	}
}
