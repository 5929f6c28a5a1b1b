package rule

import (
	"iter"
	"time"
)

// DefaultHorizonYears bounds the search for sparse date selectors.
const DefaultHorizonYears = 5

// Evaluator computes fire instants. The zero value uses DefaultHorizonYears.
type Evaluator struct {
	HorizonYears int
}

func (e Evaluator) horizon() int {
	if e.HorizonYears <= 0 {
		return DefaultHorizonYears
	}
	return e.HorizonYears
}

// NextFireAfter returns the first fire instant at or after now with the rule read
// in timeZone. An empty or unknown zone is treated as UTC.
func NextFireAfter(r Rule, timeZone string, now time.Time) (time.Time, bool) {
	return Evaluator{}.NextFire(r, locationOrUTC(timeZone), now, nil)
}

// NextFire is NextFireAfter for a schedule that knows its last run, which
// anchors Interval rules.
func NextFire(r Rule, loc *time.Location, now time.Time, lastRunAt *time.Time) (time.Time, bool) {
	return Evaluator{}.NextFire(r, loc, now, lastRunAt)
}

// Occurrences returns up to n fire instants at or after from.
func Occurrences(r Rule, loc *time.Location, from time.Time, n int) []time.Time {
	return Evaluator{}.Occurrences(r, loc, from, n, nil)
}

// IsExpired reports whether r can no longer fire. Only a OneTime rule whose
// instant has passed is expired; recurring rules never are on the client.
func IsExpired(r Rule, loc *time.Location, now time.Time) bool {
	ot, ok := r.(OneTime)
	if !ok || ot.FireAt == nil {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	return ot.FireAt.In(loc).Before(now)
}

func (e Evaluator) NextFire(r Rule, loc *time.Location, now time.Time, lastRunAt *time.Time) (time.Time, bool) {
	for t := range e.Fires(r, loc, now, lastRunAt) {
		return t, true
	}
	return time.Time{}, false
}

func (e Evaluator) Occurrences(r Rule, loc *time.Location, from time.Time, n int, lastRunAt *time.Time) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	for t := range e.Fires(r, loc, from, lastRunAt) {
		out = append(out, t)
		if len(out) == n {
			break
		}
	}
	return out
}

// Fires yields the strictly ascending fire instants at or after now, stopping
// at the search horizon.
func (e Evaluator) Fires(r Rule, loc *time.Location, now time.Time, lastRunAt *time.Time) iter.Seq[time.Time] {
	if loc == nil {
		loc = time.UTC
	}
	limit := now.AddDate(e.horizon(), 0, 0)
	return func(yield func(time.Time) bool) {
		switch v := r.(type) {
		case OneTime:
			if v.FireAt == nil {
				return
			}
			if at := v.FireAt.In(loc); !at.Before(now) {
				yield(at)
			}
		case Interval:
			intervalFires(v, loc, now, lastRunAt, limit, yield)
		case Complex:
			e.complexFires(v, loc, now, yield)
		}
	}
}

func intervalFires(v Interval, loc *time.Location, now time.Time, lastRunAt *time.Time, limit time.Time, yield func(time.Time) bool) {
	if v.Every <= 0 || v.Every > v.Unit.MaxEvery(MaxIntervalSpan) {
		return
	}
	anchor := now
	if lastRunAt != nil {
		anchor = *lastRunAt
	}
	t := firstIntervalFire(v, anchor.In(loc), now)
	for !t.After(limit) {
		if !yield(t) {
			return
		}
		t = stepInterval(v, t, 1)
	}
}

// firstIntervalFire adds at least one period to anchor and keeps adding until
// the result is not before now.
func firstIntervalFire(v Interval, anchor, now time.Time) time.Time {
	t := stepInterval(v, anchor, 1)
	if !t.Before(now) {
		return t
	}
	if v.Unit != UnitDays {
		period := v.Unit.Duration(v.Every)
		k := (now.Sub(t) + period - 1) / period
		return t.Add(k * period)
	}
	// Calendar days drift across DST, so jump close and then walk.
	days := int(now.Sub(t).Hours() / 24)
	if k := days / v.Every; k > 1 {
		t = stepInterval(v, t, k-1)
	}
	for t.Before(now) {
		t = stepInterval(v, t, 1)
	}
	return t
}

func stepInterval(v Interval, t time.Time, k int) time.Time {
	if v.Unit == UnitDays {
		return t.AddDate(0, 0, v.Every*k)
	}
	return t.Add(time.Duration(k) * v.Unit.Duration(v.Every))
}

func (e Evaluator) complexFires(v Complex, loc *time.Location, now time.Time, yield func(time.Time) bool) {
	if v.Date == nil || v.Time == nil {
		return
	}
	today := DateOf(now.In(loc))
	end := DateOf(time.Date(today.Year+e.horizon(), today.Month, today.Day, 0, 0, 0, 0, time.UTC))
	var last time.Time
	for d := range dates(v.Date, today, end) {
		for tod := range times(v.Time) {
			at := d.At(tod, loc)
			// Wall times skipped or repeated by a DST shift can normalize onto
			// an instant already produced.
			if at.Before(now) || (!last.IsZero() && !at.After(last)) {
				continue
			}
			last = at
			if !yield(at) {
				return
			}
		}
	}
}
