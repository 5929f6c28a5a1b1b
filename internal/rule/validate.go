package rule

import "time"

// MaxSchedules is the number of schedules a reminder may carry.
const MaxSchedules = 5

// Validate checks a rule for well-formedness relative to now in loc. It never
// panics and reports every violation, not just the first. A nil loc means UTC.
func Validate(r Rule, loc *time.Location, now time.Time) ValidationErrors {
	if loc == nil {
		loc = time.UTC
	}
	var c collector
	switch v := r.(type) {
	case nil:
		c.malformed("type", "rule is required")
	case OneTime:
		validateOneTime(&c, v, loc, now)
	case Interval:
		validateInterval(&c, v)
	case Complex:
		validateDate(&c, v.Date)
		validateTime(&c, v.Time)
	default:
		c.malformed("type", "unsupported rule %T", r)
	}
	return c.errs
}

// ValidateWire runs the structural check and, when a rule could be built, the
// semantic one. A field that failed to parse is reported once. The returned
// rule may be partial when errors are reported.
func ValidateWire(w WireRule, loc *time.Location, now time.Time) (Rule, ValidationErrors) {
	r, errs := ParseWire(w)
	if r == nil {
		return nil, errs
	}
	reported := make(map[string]bool, len(errs))
	for _, e := range errs {
		reported[e.Path] = true
	}
	for _, e := range Validate(r, loc, now) {
		if !reported[e.Path] {
			errs = append(errs, e)
		}
	}
	return r, errs
}

// CheckScheduleCount enforces MaxSchedules for a reminder with n schedules.
func CheckScheduleCount(n int) *ValidationError {
	if n <= MaxSchedules {
		return nil
	}
	return &ValidationError{
		Path:    "schedules",
		Kind:    InvalidQuantity,
		Key:     KeyTooManySchedule,
		Message: "at most 5 schedules per reminder",
	}
}

func validateOneTime(c *collector, v OneTime, loc *time.Location, now time.Time) {
	if v.FireAt == nil {
		c.missing("oneTime.fireAt")
		return
	}
	if !v.FireAt.Date.Valid() || !validTime(v.FireAt.Time) {
		c.malformed("oneTime.fireAt", "%s is not a valid datetime", v.FireAt)
		return
	}
	if !v.FireAt.In(loc).After(now) {
		c.add("oneTime.fireAt", PastFireTime, KeyPastFireTime, "%s is not in the future", v.FireAt)
	}
}

func validateInterval(c *collector, v Interval) {
	switch {
	case v.Every <= 0:
		c.add("interval.every", InvalidQuantity, KeyInvalidQuantity, "must be a positive integer, got %d", v.Every)
	case v.Unit.Valid() && v.Every > v.Unit.MaxEvery(MaxIntervalSpan):
		c.add("interval.every", InvalidQuantity, KeyInvalidQuantity, "at most %d %s", v.Unit.MaxEvery(MaxIntervalSpan), v.Unit)
	}
	validateUnit(c, "interval.unit", v.Unit)
}

func validateUnit(c *collector, path string, u Unit) {
	switch {
	case u == "":
		c.missing(path)
	case !u.Valid():
		c.malformed(path, "unknown unit %q", u)
	}
}

func validateDate(c *collector, d DateSelector) {
	const p = "complex.date."
	switch v := d.(type) {
	case nil:
		c.missing(p + "mode")
	case Daily:
	case ExactDate:
		switch {
		case v.At == nil:
			c.missing(p + "at")
		case !v.At.Valid():
			c.malformed(p+"at", "%s is not a calendar date", v.At)
		}
	case DateRange:
		switch {
		case v.Range == nil:
			c.missing(p + "range")
		case !v.Range.From.Valid():
			c.malformed(p+"range.from", "%s is not a calendar date", v.Range.From)
		case !v.Range.To.Valid():
			c.malformed(p+"range.to", "%s is not a calendar date", v.Range.To)
		}
	case WeekDays:
		validateSet(c, p+"weekDays", v.Days, 1, 7)
	case MonthDays:
		validateSet(c, p+"monthDays", v.Days, 1, 31)
	case YearDays:
		validateSet(c, p+"months", v.Months, 1, 12)
		validateSet(c, p+"monthDays", v.Days, 1, 31)
	default:
		c.malformed(p+"mode", "unsupported date selector %T", d)
	}
}

func validateSet(c *collector, path string, set []int, lo, hi int) {
	if len(set) == 0 {
		c.missing(path)
		return
	}
	for _, n := range set {
		if n < lo || n > hi {
			c.add(path, InvalidQuantity, KeyOutOfRange, "%d is outside %d..%d", n, lo, hi)
			return
		}
	}
}

func validateTime(c *collector, t TimeSelector) {
	const p = "complex.time."
	switch v := t.(type) {
	case nil:
		c.missing(p + "mode")
	case ExactTime:
		switch {
		case v.At == nil:
			c.missing(p + "at")
		case !validTime(*v.At):
			c.malformed(p+"at", "%s is not a time of day", v.At)
		}
	case TimeRange:
		sr := v.StepRange
		if sr == nil {
			c.missing(p + "stepRange")
			return
		}
		if sr.From == nil {
			c.missing(p + "stepRange.from")
		} else if !validTime(*sr.From) {
			c.malformed(p+"stepRange.from", "%s is not a time of day", sr.From)
		}
		if sr.To == nil {
			c.missing(p + "stepRange.to")
		} else if !validTime(*sr.To) {
			c.malformed(p+"stepRange.to", "%s is not a time of day", sr.To)
		}
		switch {
		case sr.Step.Every == 0:
			c.missing(p + "stepRange.step.every")
		case sr.Step.Every < 0:
			c.add(p+"stepRange.step.every", InvalidQuantity, KeyInvalidQuantity, "must be a positive integer, got %d", sr.Step.Every)
		case sr.Step.Unit.Valid() && sr.Step.Every > sr.Step.Unit.MaxEvery(MaxStepSpan):
			c.add(p+"stepRange.step.every", InvalidQuantity, KeyInvalidQuantity, "step is longer than a day")
		}
		validateUnit(c, p+"stepRange.step.unit", sr.Step.Unit)
	default:
		c.malformed(p+"mode", "unsupported time selector %T", t)
	}
}

func validTime(t TimeOfDay) bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60 && t.Second >= 0 && t.Second < 60
}
