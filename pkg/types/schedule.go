package types

import (
	"time"
)

// MinuteRange is a half-open [Start, End) span of minutes since midnight.
type MinuteRange struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Holiday closes the schedule between two instants.
type Holiday struct {
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Schedule describes when live support is available.
type Schedule struct {
	ID       string                         `json:"id"`
	Name     string                         `json:"name"`
	Enabled  bool                           `json:"enabled"`
	Timezone string                         `json:"timezone"`
	Hours    map[time.Weekday][]MinuteRange `json:"hours"`
	Holidays []Holiday                      `json:"holidays,omitempty"`
}

// IsActiveAt reports whether t falls inside business hours.
// An unknown timezone falls back to UTC.
func (s *Schedule) IsActiveAt(t time.Time) bool {
	if s == nil || !s.Enabled {
		return false
	}

	loc := time.UTC
	if s.Timezone != "" {
		if l, err := time.LoadLocation(s.Timezone); err == nil {
			loc = l
		}
	}
	local := t.In(loc)

	for _, h := range s.Holidays {
		if !local.Before(h.StartDate) && local.Before(h.EndDate) {
			return false
		}
	}

	minute := local.Hour()*60 + local.Minute()
	for _, r := range s.Hours[local.Weekday()] {
		if minute >= r.Start && minute < r.End {
			return true
		}
	}
	return false
}
