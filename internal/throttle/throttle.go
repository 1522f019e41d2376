// Package throttle gates repeated "already handled" reminders.
package throttle

import "time"

// DefaultPeriodMinutes spaces reminders five minutes apart.
const DefaultPeriodMinutes = 5

// Throttle fires on wall-clock minutes divisible by PeriodMinutes. It keeps no
// state between calls, so a restart never suppresses or duplicates a reminder.
type Throttle struct {
	PeriodMinutes int
}

func New() Throttle {
	return Throttle{PeriodMinutes: DefaultPeriodMinutes}
}

// ShouldNotify reports whether a repeated-state alert may fire at now. The
// minute is read in UTC.
func (t Throttle) ShouldNotify(now time.Time) bool {
	period := t.PeriodMinutes
	if period <= 0 {
		period = DefaultPeriodMinutes
	}
	return now.UTC().Minute()%period == 0
}
