package engine

import "time"

// Clock supplies timestamps for every transition the engine commits.
// Injectable so tests can drive deterministic schedules.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
