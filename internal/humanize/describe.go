// Package humanize renders rules and reminder states as localized text.
package humanize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tazhate/remindbot/internal/rule"
)

// Describe renders r as a sentence. It never fails: missing parts of an
// incomplete rule are left out of the text.
func Describe(r rule.Rule, t Translator) string {
	switch v := r.(type) {
	case rule.OneTime:
		if v.FireAt == nil {
			return ""
		}
		return t.T("humanize.oneTime", Args{
			"date": FormatDate(v.FireAt.Date, t),
			"time": v.FireAt.Time.Short(),
		})
	case rule.Interval:
		return t.T("humanize.interval", Args{
			"count": v.Every,
			"unit":  unitName(v.Unit, v.Every, t),
		})
	case rule.Complex:
		return describeComplex(v, t)
	}
	return ""
}

func describeComplex(c rule.Complex, t Translator) string {
	var at string
	if et, ok := c.Time.(rule.ExactTime); ok && et.At != nil {
		at = et.At.Short()
	}

	var datePart string
	switch d := c.Date.(type) {
	case rule.Daily:
		if at != "" {
			return t.T("humanize.daily", Args{"time": at})
		}
		datePart = t.T("dateMode.DAILY", nil)
	case rule.ExactDate:
		if d.At != nil {
			date := FormatDate(*d.At, t)
			if at != "" {
				return t.T("humanize.exactDate", Args{"date": date, "time": at})
			}
			datePart = date
		}
	case rule.DateRange:
		if d.Range != nil {
			from, to := FormatDate(d.Range.From, t), FormatDate(d.Range.To, t)
			if at != "" {
				return t.T("humanize.dateRange", Args{"from": from, "to": to, "time": at})
			}
			datePart = from + " - " + to
		}
	case rule.WeekDays:
		if len(d.Days) > 0 {
			days := joinMapped(d.Days, func(n int) string { return t.T("weekDayShort."+strconv.Itoa(n), nil) })
			if at != "" {
				return t.T("humanize.weekDays", Args{"days": days, "time": at})
			}
			datePart = days
		}
	case rule.MonthDays:
		if len(d.Days) > 0 {
			days := joinMapped(d.Days, strconv.Itoa)
			if at != "" {
				return t.T("humanize.monthDays", Args{"days": days, "time": at})
			}
			datePart = days
		}
	case rule.YearDays:
		if len(d.Months) > 0 && len(d.Days) > 0 {
			months := joinMapped(d.Months, func(n int) string { return t.T("month."+strconv.Itoa(n), nil) })
			days := joinMapped(d.Days, strconv.Itoa)
			if at != "" {
				return t.T("humanize.yearDays", Args{"months": months, "days": days, "time": at})
			}
			datePart = months + " " + days
		}
	}

	if tr, ok := c.Time.(rule.TimeRange); ok && tr.StepRange != nil {
		sr := tr.StepRange
		return strings.TrimSpace(t.T("humanize.timeRange", Args{
			"date": datePart,
			"from": shortOrEmpty(sr.From),
			"to":   shortOrEmpty(sr.To),
			"step": fmt.Sprintf("%d %s", sr.Step.Every, unitName(sr.Step.Unit, sr.Step.Every, t)),
		}))
	}
	return strings.TrimSpace(datePart + " " + at)
}

// FormatDate renders d in the locale's long form ("October 20, 2025").
func FormatDate(d rule.Date, t Translator) string {
	return t.T("format.longDate", Args{
		"day":   d.Day,
		"month": t.T("monthLong."+strconv.Itoa(int(d.Month)), nil),
		"year":  d.Year,
	})
}

func unitName(u rule.Unit, n int, t Translator) string {
	if u == "" {
		return ""
	}
	return strings.ToLower(t.T("timeUnit."+string(u), Args{"count": n}))
}

func shortOrEmpty(tod *rule.TimeOfDay) string {
	if tod == nil {
		return ""
	}
	return tod.Short()
}

// joinMapped sorts a copy of set and joins the rendered members with ", ".
func joinMapped(set []int, render func(int) string) string {
	sorted := rule.SortedSet(set)
	parts := make([]string, len(sorted))
	for i, n := range sorted {
		parts[i] = render(n)
	}
	return strings.Join(parts, ", ")
}
