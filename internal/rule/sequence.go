package rule

import (
	"iter"
	"slices"
	"time"
)

// dates yields the dates picked by sel within [start, end], ascending.
func dates(sel DateSelector, start, end Date) iter.Seq[Date] {
	return func(yield func(Date) bool) {
		switch v := sel.(type) {
		case Daily:
			walkDays(start, end, func(Date) bool { return true }, yield)
		case ExactDate:
			if v.At != nil && v.At.Valid() && !v.At.Before(start) && !v.At.After(end) {
				yield(*v.At)
			}
		case DateRange:
			if v.Range == nil {
				return
			}
			r := v.Range.Normalize()
			from, to := r.From, r.To
			if from.Before(start) {
				from = start
			}
			if to.After(end) {
				to = end
			}
			walkDays(from, to, func(Date) bool { return true }, yield)
		case WeekDays:
			set := inSet(v.Days)
			walkDays(start, end, func(d Date) bool { return set[d.ISOWeekday()] }, yield)
		case MonthDays:
			walkMonths(start, end, func(time.Month) bool { return true }, SortedSet(v.Days), yield)
		case YearDays:
			set := inSet(v.Months)
			walkMonths(start, end, func(m time.Month) bool { return set[int(m)] }, SortedSet(v.Days), yield)
		}
	}
}

func walkDays(from, to Date, keep func(Date) bool, yield func(Date) bool) {
	for d := from; !d.After(to); d = d.AddDays(1) {
		if keep(d) && !yield(d) {
			return
		}
	}
}

// walkMonths visits every month between start and end that keep accepts and
// yields the listed days that exist in it.
func walkMonths(start, end Date, keep func(time.Month) bool, days []int, yield func(Date) bool) {
	if len(days) == 0 {
		return
	}
	for y, m := start.Year, start.Month; y < end.Year || (y == end.Year && m <= end.Month); {
		if keep(m) {
			n := DaysIn(y, m)
			for _, day := range days {
				if day < 1 || day > n {
					continue
				}
				d := Date{Year: y, Month: m, Day: day}
				if d.Before(start) {
					continue
				}
				if d.After(end) || !yield(d) {
					return
				}
			}
		}
		if m == time.December {
			y, m = y+1, time.January
		} else {
			m++
		}
	}
}

// times yields the times of day picked by sel, ascending.
func times(sel TimeSelector) iter.Seq[TimeOfDay] {
	return func(yield func(TimeOfDay) bool) {
		switch v := sel.(type) {
		case ExactTime:
			if v.At != nil {
				yield(*v.At)
			}
		case TimeRange:
			sr := v.StepRange
			if sr == nil || sr.From == nil || sr.To == nil || sr.Step.Every <= 0 || !sr.Step.Unit.Valid() {
				return
			}
			if sr.Step.Every > sr.Step.Unit.MaxEvery(MaxStepSpan) {
				return
			}
			step := int(sr.Step.Unit.Duration(sr.Step.Every) / time.Second)
			if step <= 0 {
				return
			}
			for s := sr.From.Seconds(); s <= sr.To.Seconds(); s += step {
				if !yield(timeOfDayFromSeconds(s)) {
					return
				}
			}
		}
	}
}

// TimesOfDay lists the times a selector fires at on any selected date.
func TimesOfDay(sel TimeSelector) []TimeOfDay {
	return slices.Collect(times(sel))
}

func inSet(xs []int) map[int]bool {
	m := make(map[int]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}
