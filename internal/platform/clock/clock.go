package clock

import "time"

// Clock is injected wherever lifecycle timestamps are minted, so tests and
// webhook replays control time.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock. All timestamps in the system are UTC.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}
