package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/tazhate/remindbot/internal/rule"
)

// Schedule is one firing rule of a reminder. A zero ID marks a schedule that
// has not been saved yet.
type Schedule struct {
	ID        uuid.UUID
	Rule      rule.Rule
	TimeZone  string
	LastRunAt *time.Time
}

// NewSchedule returns an unsaved schedule for r.
func NewSchedule(r rule.Rule, tz string) Schedule {
	return Schedule{Rule: r, TimeZone: tz}
}

// IsNew reports whether the schedule has no server id yet.
func (s Schedule) IsNew() bool {
	return s.ID == uuid.Nil
}

// Zone returns the schedule's own zone, or fallback when it has none.
func (s Schedule) Zone(fallback string) string {
	if s.TimeZone != "" {
		return s.TimeZone
	}
	return fallback
}

// NextFire projects the next fire instant at or after now.
func (s Schedule) NextFire(fallbackTZ string, now time.Time) (time.Time, bool) {
	loc, err := rule.LoadLocation(s.Zone(fallbackTZ))
	if err != nil {
		loc = time.UTC
	}
	return rule.NextFire(s.Rule, loc, now, s.LastRunAt)
}

// IsExpired reports whether the schedule can no longer fire. Only one-time
// schedules expire on the client.
func (s Schedule) IsExpired(fallbackTZ string, now time.Time) bool {
	loc, err := rule.LoadLocation(s.Zone(fallbackTZ))
	if err != nil {
		loc = time.UTC
	}
	return rule.IsExpired(s.Rule, loc, now)
}

// FilterExpired returns the schedules that can still fire.
func FilterExpired(schedules []Schedule, fallbackTZ string, now time.Time) []Schedule {
	out := make([]Schedule, 0, len(schedules))
	for _, s := range schedules {
		if !s.IsExpired(fallbackTZ, now) {
			out = append(out, s)
		}
	}
	return out
}
