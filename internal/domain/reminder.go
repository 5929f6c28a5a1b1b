package domain

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tazhate/remindbot/internal/rule"
)

// MaxTextLength is the longest reminder text the server accepts, in characters.
const MaxTextLength = 500

// Reminder is a user reminder with its schedules. Times are instants; the
// reminder's TimeZone is used for schedules that carry none.
type Reminder struct {
	ID        uuid.UUID
	Text      string
	TimeZone  string
	Status    State
	CreatedAt time.Time
	UpdatedAt time.Time
	PausedAt  *time.Time
	EndedAt   *time.Time
	NextRunAt *time.Time
	Schedules []Schedule
}

// Location resolves the reminder's zone, UTC when empty or unknown.
func (r *Reminder) Location() *time.Location {
	loc, err := rule.LoadLocation(r.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ProjectedNextRun is the earliest next fire over the non-expired schedules,
// or nil when none will fire.
func (r *Reminder) ProjectedNextRun(now time.Time) *time.Time {
	var next *time.Time
	for i := range r.Schedules {
		s := &r.Schedules[i]
		if s.IsExpired(r.TimeZone, now) {
			continue
		}
		t, ok := s.NextFire(r.TimeZone, now)
		if !ok {
			continue
		}
		if next == nil || t.Before(*next) {
			next = &t
		}
	}
	return next
}

// Invariant violations reported by CheckInvariants.
var (
	ErrDraftWithSchedules    = errors.New("draft reminder has schedules")
	ErrActiveNoSchedules     = errors.New("non-draft reminder has no schedules")
	ErrPausedWithNextRun     = errors.New("paused reminder has a next run")
	ErrEndedWithLiveSchedule = errors.New("ended reminder has a schedule that can still fire")
	ErrNextRunMismatch       = errors.New("next run differs from the projected next fire")
)

// CheckInvariants reports every lifecycle invariant r breaks at now. NextRunAt
// is compared only for active reminders without interval schedules: interval
// anchors are owned by the server and the client can only estimate them.
func (r *Reminder) CheckInvariants(now time.Time) []error {
	var errs []error
	switch r.Status {
	case StateDraft:
		if len(r.Schedules) > 0 {
			errs = append(errs, ErrDraftWithSchedules)
		}
	case StateActive, StatePaused:
		if len(r.Schedules) == 0 {
			errs = append(errs, ErrActiveNoSchedules)
		}
	}
	if r.Status == StatePaused && r.NextRunAt != nil {
		errs = append(errs, ErrPausedWithNextRun)
	}
	// Exhaustion of recurring rules is decided by the server, so only one-time
	// schedules are checked here.
	if r.Status == StateEnded {
		for _, s := range r.Schedules {
			if s.Rule != nil && s.Rule.Type() == rule.TypeOneTime && !s.IsExpired(r.TimeZone, now) {
				errs = append(errs, fmt.Errorf("%w: %s", ErrEndedWithLiveSchedule, s.ID))
			}
		}
	}
	if r.Status == StateActive && !r.hasInterval() {
		want := r.ProjectedNextRun(now)
		switch {
		case want == nil && r.NextRunAt != nil, want != nil && r.NextRunAt == nil:
			errs = append(errs, ErrNextRunMismatch)
		case want != nil && !want.Equal(*r.NextRunAt):
			errs = append(errs, fmt.Errorf("%w: have %s, projected %s", ErrNextRunMismatch,
				r.NextRunAt.Format(time.RFC3339), want.Format(time.RFC3339)))
		}
	}
	return errs
}

func (r *Reminder) hasInterval() bool {
	for _, s := range r.Schedules {
		if _, ok := s.Rule.(rule.Interval); ok {
			return true
		}
	}
	return false
}

// ValidateText checks the reminder text and returns the message key of the
// first problem, or "".
func ValidateText(text string) string {
	switch n := utf8.RuneCountInString(text); {
	case n == 0:
		return "validation.textRequired"
	case n > MaxTextLength:
		return "validation.textTooLong"
	}
	return ""
}

// ValidateCreate checks a new reminder before it is sent. Every schedule rule
// is validated in its own zone (falling back to tz) and errors are nested under
// "schedules.<i>".
func ValidateCreate(text, tz string, schedules []Schedule, now time.Time) rule.ValidationErrors {
	errs := textErrors(text)
	if _, err := rule.LoadLocation(tz); err != nil {
		errs = append(errs, rule.ValidationError{Path: "timeZone", Kind: rule.MalformedRule, Key: "validation.invalidTimeZone", Message: err.Error()})
	}
	errs = append(errs, validateSchedules(schedules, tz, now, 0)...)
	if e := rule.CheckScheduleCount(len(schedules)); e != nil {
		errs = append(errs, *e)
	}
	return errs
}

// ValidateUpdate checks an edit: the new text and the full edited schedule
// list. Kept schedules are re-submitted as adds, so they are checked too.
func ValidateUpdate(text, tz string, edited []Schedule, now time.Time) rule.ValidationErrors {
	errs := textErrors(text)
	errs = append(errs, validateSchedules(edited, tz, now, 0)...)
	if e := rule.CheckScheduleCount(len(edited)); e != nil {
		errs = append(errs, *e)
	}
	return errs
}

func textErrors(text string) rule.ValidationErrors {
	switch key := ValidateText(text); key {
	case "":
		return nil
	case "validation.textTooLong":
		return rule.ValidationErrors{{Path: "text", Kind: rule.InvalidQuantity, Key: key, Message: "text is too long"}}
	default:
		return rule.ValidationErrors{{Path: "text", Kind: rule.MissingSelection, Key: key, Message: "text is required"}}
	}
}

func validateSchedules(schedules []Schedule, tz string, now time.Time, offset int) rule.ValidationErrors {
	var errs rule.ValidationErrors
	for i, s := range schedules {
		zone := s.Zone(tz)
		loc, err := rule.LoadLocation(zone)
		prefix := fmt.Sprintf("schedules.%d", offset+i)
		if err != nil {
			errs = append(errs, rule.ValidationError{Path: prefix + ".timeZone", Kind: rule.MalformedRule, Key: "validation.invalidTimeZone", Message: err.Error()})
			loc = time.UTC
		}
		errs = append(errs, rule.Validate(s.Rule, loc, now).Prefix(prefix+".rule")...)
	}
	return errs
}
