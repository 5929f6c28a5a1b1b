// Package calendar renders reminders as iCalendar data.
package calendar

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/humanize"
	"github.com/tazhate/remindbot/internal/rule"
)

const (
	ProductID = "-//remindbot//Reminders//EN"

	// MaxTimeRangeEvents caps the events generated for one time-range schedule.
	MaxTimeRangeEvents = 96

	eventDuration = 15 * time.Minute
)

// Object is one calendar resource: a single VEVENT and its UID.
type Object struct {
	UID        string
	ReminderID uuid.UUID
	Calendar   *ical.Calendar
}

// Objects returns the calendar objects of a reminder. Reminders that are not
// active or ended, and schedules with nothing left to fire, produce none.
func Objects(r *domain.Reminder, t humanize.Translator, now time.Time) []Object {
	if r.Status != domain.StateActive && r.Status != domain.StateEnded {
		return nil
	}

	var out []Object
	for _, s := range r.Schedules {
		loc, err := rule.LoadLocation(s.Zone(r.TimeZone))
		if err != nil {
			loc = time.UTC
		}
		for i, ev := range scheduleEvents(s, loc, now) {
			uid := s.ID.String() + "@remindbot"
			if i > 0 {
				uid = fmt.Sprintf("%s-%d@remindbot", s.ID, i)
			}
			ev.Props.SetText(ical.PropUID, uid)
			ev.Props.SetText(ical.PropSummary, r.Text)
			if desc := humanize.Describe(s.Rule, t); desc != "" {
				ev.Props.SetText(ical.PropDescription, desc)
			}
			ev.Props.SetDateTime(ical.PropDateTimeStamp, r.UpdatedAt.UTC())

			cal := newCalendar()
			cal.Children = append(cal.Children, ev.Component)
			out = append(out, Object{UID: uid, ReminderID: r.ID, Calendar: cal})
		}
	}
	return out
}

// Export merges the objects of all reminders into one calendar.
func Export(reminders []*domain.Reminder, t humanize.Translator, now time.Time) *ical.Calendar {
	cal := newCalendar()
	for _, r := range reminders {
		for _, obj := range Objects(r, t, now) {
			cal.Children = append(cal.Children, obj.Calendar.Children...)
		}
	}
	return cal
}

func newCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	return cal
}

// Encode writes cal in iCalendar format.
func Encode(w io.Writer, cal *ical.Calendar) error {
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

// Hash fingerprints an encoded calendar for change detection.
func Hash(cal *ical.Calendar) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, cal); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func scheduleEvents(s domain.Schedule, loc *time.Location, now time.Time) []*ical.Event {
	switch v := s.Rule.(type) {
	case rule.OneTime:
		if v.FireAt == nil {
			return nil
		}
		// Past one-time schedules stay in the calendar as history.
		return []*ical.Event{newEvent(v.FireAt.In(loc), loc, nil)}

	case rule.Interval:
		start, ok := rule.NextFire(v, loc, now, s.LastRunAt)
		if !ok {
			return nil
		}
		opt, ok := intervalOption(v)
		if !ok {
			return nil
		}
		return []*ical.Event{newEvent(start, loc, opt)}

	case rule.Complex:
		if v.Time == nil {
			return nil
		}
		tods := rule.TimesOfDay(v.Time)
		if len(tods) > MaxTimeRangeEvents {
			tods = tods[:MaxTimeRangeEvents]
		}
		var events []*ical.Event
		for _, tod := range tods {
			single := rule.Complex{Date: v.Date, Time: rule.ExactTime{At: &tod}}
			start, ok := rule.NextFire(single, loc, now, nil)
			if !ok {
				continue
			}
			opt, ok := dateOption(v.Date, loc)
			if !ok {
				events = append(events, newEvent(start, loc, nil))
				continue
			}
			events = append(events, newEvent(start, loc, opt))
		}
		return events
	}
	return nil
}

func newEvent(start time.Time, loc *time.Location, opt *rrule.ROption) *ical.Event {
	start = start.In(loc)
	ev := ical.NewEvent()
	ev.Props.SetDateTime(ical.PropDateTimeStart, start)
	ev.Props.SetDateTime(ical.PropDateTimeEnd, start.Add(eventDuration))
	if opt != nil {
		ev.Props.SetRecurrenceRule(opt)
	}
	return ev
}

// intervalOption maps an interval onto a frequency. Day intervals stay on
// wall-clock time through the event's TZID.
func intervalOption(v rule.Interval) (*rrule.ROption, bool) {
	if v.Every <= 0 {
		return nil, false
	}
	opt := &rrule.ROption{Interval: v.Every}
	switch v.Unit {
	case rule.UnitMinutes:
		opt.Freq = rrule.MINUTELY
	case rule.UnitHours:
		opt.Freq = rrule.HOURLY
	case rule.UnitDays:
		opt.Freq = rrule.DAILY
	default:
		return nil, false
	}
	return opt, true
}

var isoWeekdays = map[int]rrule.Weekday{
	1: rrule.MO, 2: rrule.TU, 3: rrule.WE, 4: rrule.TH, 5: rrule.FR, 6: rrule.SA, 7: rrule.SU,
}

// dateOption maps a date selector onto a recurrence. ExactDate has none.
func dateOption(d rule.DateSelector, loc *time.Location) (*rrule.ROption, bool) {
	switch v := d.(type) {
	case rule.Daily:
		return &rrule.ROption{Freq: rrule.DAILY}, true

	case rule.DateRange:
		if v.Range == nil {
			return nil, false
		}
		rng := v.Range.Normalize()
		until := rng.To.AddDays(1).At(rule.TimeOfDay{}, loc).Add(-time.Second)
		return &rrule.ROption{Freq: rrule.DAILY, Until: until.UTC()}, true

	case rule.WeekDays:
		var days []rrule.Weekday
		for _, d := range rule.SortedSet(v.Days) {
			if wd, ok := isoWeekdays[d]; ok {
				days = append(days, wd)
			}
		}
		if len(days) == 0 {
			return nil, false
		}
		return &rrule.ROption{Freq: rrule.WEEKLY, Byweekday: days}, true

	case rule.MonthDays:
		if len(v.Days) == 0 {
			return nil, false
		}
		return &rrule.ROption{Freq: rrule.MONTHLY, Bymonthday: rule.SortedSet(v.Days)}, true

	case rule.YearDays:
		if len(v.Months) == 0 || len(v.Days) == 0 {
			return nil, false
		}
		return &rrule.ROption{
			Freq:       rrule.YEARLY,
			Bymonth:    rule.SortedSet(v.Months),
			Bymonthday: rule.SortedSet(v.Days),
		}, true
	}
	return nil, false
}
