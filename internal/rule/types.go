// Package rule holds the recurrence grammar of a reminder schedule: the rule
// model, its wire codec, validation and next-fire evaluation. Everything here is
// pure; callers pass the zone and "now" explicitly.
package rule

import (
	"slices"
	"time"
)

// Type discriminates the three rule variants on the wire.
type Type string

const (
	TypeOneTime  Type = "ONE_TIME"
	TypeInterval Type = "INTERVAL"
	TypeComplex  Type = "COMPLEX"
)

// Unit is the granularity of an interval or a time-range step.
type Unit string

const (
	UnitMinutes Unit = "MINUTES"
	UnitHours   Unit = "HOURS"
	UnitDays    Unit = "DAYS"
)

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool {
	switch u {
	case UnitMinutes, UnitHours, UnitDays:
		return true
	}
	return false
}

// MaxIntervalSpan bounds every*unit of an Interval.
const MaxIntervalSpan = 100 * 365 * 24 * time.Hour

// MaxStepSpan bounds the step of a time-of-day range.
const MaxStepSpan = 24 * time.Hour

// MaxEvery returns the largest count of u that fits in span, or 0 for an
// unknown unit.
func (u Unit) MaxEvery(span time.Duration) int {
	one := u.Duration(1)
	if one <= 0 {
		return 0
	}
	return int(span / one)
}

// Duration returns the length of n units. Days are 24h here; calendar-aware
// stepping is done by the evaluator. Callers bound n with MaxEvery first.
func (u Unit) Duration(n int) time.Duration {
	switch u {
	case UnitMinutes:
		return time.Duration(n) * time.Minute
	case UnitHours:
		return time.Duration(n) * time.Hour
	case UnitDays:
		return time.Duration(n) * 24 * time.Hour
	}
	return 0
}

// DateMode discriminates date selectors.
type DateMode string

const (
	DateDaily     DateMode = "DAILY"
	DateExact     DateMode = "EXACT_DATE"
	DateRangeMode DateMode = "RANGE"
	DateWeekDays  DateMode = "WEEK_DAYS"
	DateMonthDays DateMode = "MONTH_DAYS"
	DateYearDays  DateMode = "YEAR_DAYS"
)

// TimeMode discriminates time selectors.
type TimeMode string

const (
	TimeExact     TimeMode = "EXACT_TIME"
	TimeRangeMode TimeMode = "RANGE"
)

// Rule is one of OneTime, Interval or Complex.
type Rule interface {
	Type() Type
	isRule()
}

// OneTime fires once at a naive local datetime.
type OneTime struct {
	FireAt *LocalDateTime
}

// Interval fires every N units from an anchor owned by the server.
type Interval struct {
	Every int
	Unit  Unit
}

// Complex is the product of a date selector and a time selector.
type Complex struct {
	Date DateSelector
	Time TimeSelector
}

func (OneTime) Type() Type  { return TypeOneTime }
func (Interval) Type() Type { return TypeInterval }
func (Complex) Type() Type  { return TypeComplex }

func (OneTime) isRule()  {}
func (Interval) isRule() {}
func (Complex) isRule()  {}

// DateSelector picks calendar dates.
type DateSelector interface {
	Mode() DateMode
	isDateSelector()
}

type (
	// Daily selects every day.
	Daily struct{}

	// ExactDate selects a single date.
	ExactDate struct {
		At *Date
	}

	// DateRange selects every date of an inclusive interval.
	DateRange struct {
		Range *DayRange
	}

	// WeekDays selects ISO weekdays, 1 = Monday.
	WeekDays struct {
		Days []int
	}

	// MonthDays selects days of month; months lacking the day are skipped.
	MonthDays struct {
		Days []int
	}

	// YearDays selects every (month, day) pair of the product.
	YearDays struct {
		Months []int
		Days   []int
	}
)

// DayRange is an inclusive date interval.
type DayRange struct {
	From Date
	To   Date
}

// Normalize returns the range with From <= To.
func (r DayRange) Normalize() DayRange {
	if r.To.Before(r.From) {
		return DayRange{From: r.To, To: r.From}
	}
	return r
}

func (Daily) Mode() DateMode     { return DateDaily }
func (ExactDate) Mode() DateMode { return DateExact }
func (DateRange) Mode() DateMode { return DateRangeMode }
func (WeekDays) Mode() DateMode  { return DateWeekDays }
func (MonthDays) Mode() DateMode { return DateMonthDays }
func (YearDays) Mode() DateMode  { return DateYearDays }

func (Daily) isDateSelector()     {}
func (ExactDate) isDateSelector() {}
func (DateRange) isDateSelector() {}
func (WeekDays) isDateSelector()  {}
func (MonthDays) isDateSelector() {}
func (YearDays) isDateSelector()  {}

// TimeSelector picks times of day.
type TimeSelector interface {
	Mode() TimeMode
	isTimeSelector()
}

// ExactTime fires once per selected date.
type ExactTime struct {
	At *TimeOfDay
}

// TimeRange fires at a fixed cadence inside a window.
type TimeRange struct {
	StepRange *StepRange
}

// StepRange is the window [From, To] walked with Step. To is inclusive.
type StepRange struct {
	From *TimeOfDay
	To   *TimeOfDay
	Step Step
}

// Step is the cadence inside a time window.
type Step struct {
	Every int
	Unit  Unit
}

func (ExactTime) Mode() TimeMode { return TimeExact }
func (TimeRange) Mode() TimeMode { return TimeRangeMode }

func (ExactTime) isTimeSelector() {}
func (TimeRange) isTimeSelector() {}

// Equal reports whether two rules describe the same schedule. Set-valued fields
// compare as sets.
func Equal(a, b Rule) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Canonical(a) == Canonical(b)
}

// Canonical returns a stable textual key for r; sets are sorted and deduplicated.
func Canonical(r Rule) string {
	w := ToWire(normalizeSets(r))
	b, err := marshalCanonical(w)
	if err != nil {
		return ""
	}
	return string(b)
}

func normalizeSets(r Rule) Rule {
	c, ok := r.(Complex)
	if !ok {
		return r
	}
	switch d := c.Date.(type) {
	case WeekDays:
		c.Date = WeekDays{Days: SortedSet(d.Days)}
	case MonthDays:
		c.Date = MonthDays{Days: SortedSet(d.Days)}
	case YearDays:
		c.Date = YearDays{Months: SortedSet(d.Months), Days: SortedSet(d.Days)}
	}
	return c
}

// SortedSet returns an ascending, deduplicated copy of a set-valued field.
func SortedSet(in []int) []int {
	if in == nil {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

func ptr[T any](v T) *T {
	return &v
}
