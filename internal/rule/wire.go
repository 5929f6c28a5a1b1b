package rule

import (
	"encoding/json"
	"fmt"
)

// WireRule is the JSON shape of a rule: a type tag plus one payload per type.
// Only the payload named by Type may be present.
type WireRule struct {
	Type     Type          `json:"type"`
	OneTime  *WireOneTime  `json:"oneTime,omitempty"`
	Interval *WireInterval `json:"interval,omitempty"`
	Complex  *WireComplex  `json:"complex,omitempty"`
}

type WireOneTime struct {
	FireAt string `json:"fireAt"`
}

type WireInterval struct {
	Every int  `json:"every"`
	Unit  Unit `json:"unit"`
}

type WireComplex struct {
	Date WireDate `json:"date"`
	Time WireTime `json:"time"`
}

type WireDate struct {
	Mode      DateMode       `json:"mode"`
	At        *string        `json:"at,omitempty"`
	Range     *WireDateRange `json:"range,omitempty"`
	WeekDays  []int          `json:"weekDays,omitempty"`
	MonthDays []int          `json:"monthDays,omitempty"`
	Months    []int          `json:"months,omitempty"`
}

type WireDateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type WireTime struct {
	Mode      TimeMode       `json:"mode"`
	At        *string        `json:"at,omitempty"`
	StepRange *WireStepRange `json:"stepRange,omitempty"`
}

type WireStepRange struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Step WireStep `json:"step"`
}

type WireStep struct {
	Every int  `json:"every"`
	Unit  Unit `json:"unit"`
}

// Marshal encodes r in its wire form.
func Marshal(r Rule) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("marshal rule: nil rule")
	}
	return json.Marshal(ToWire(r))
}

// Unmarshal decodes a wire rule. Structural problems come back as
// ValidationErrors so callers can report them per field.
func Unmarshal(data []byte) (Rule, error) {
	var w WireRule
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode rule: %w", err)
	}
	r, errs := ParseWire(w)
	if len(errs) > 0 {
		return nil, errs
	}
	return r, nil
}

func marshalCanonical(w WireRule) ([]byte, error) {
	return json.Marshal(w)
}

// ToWire converts r to its JSON shape.
func ToWire(r Rule) WireRule {
	switch v := r.(type) {
	case OneTime:
		w := WireRule{Type: TypeOneTime, OneTime: &WireOneTime{}}
		if v.FireAt != nil {
			w.OneTime.FireAt = v.FireAt.String()
		}
		return w
	case Interval:
		return WireRule{Type: TypeInterval, Interval: &WireInterval{Every: v.Every, Unit: v.Unit}}
	case Complex:
		return WireRule{Type: TypeComplex, Complex: &WireComplex{
			Date: dateToWire(v.Date),
			Time: timeToWire(v.Time),
		}}
	}
	return WireRule{}
}

func dateToWire(d DateSelector) WireDate {
	switch v := d.(type) {
	case Daily:
		return WireDate{Mode: DateDaily}
	case ExactDate:
		w := WireDate{Mode: DateExact}
		if v.At != nil {
			w.At = ptr(v.At.String())
		}
		return w
	case DateRange:
		w := WireDate{Mode: DateRangeMode}
		if v.Range != nil {
			w.Range = &WireDateRange{From: v.Range.From.String(), To: v.Range.To.String()}
		}
		return w
	case WeekDays:
		return WireDate{Mode: DateWeekDays, WeekDays: v.Days}
	case MonthDays:
		return WireDate{Mode: DateMonthDays, MonthDays: v.Days}
	case YearDays:
		return WireDate{Mode: DateYearDays, Months: v.Months, MonthDays: v.Days}
	}
	return WireDate{}
}

func timeToWire(t TimeSelector) WireTime {
	switch v := t.(type) {
	case ExactTime:
		w := WireTime{Mode: TimeExact}
		if v.At != nil {
			w.At = ptr(v.At.String())
		}
		return w
	case TimeRange:
		w := WireTime{Mode: TimeRangeMode}
		if sr := v.StepRange; sr != nil {
			w.StepRange = &WireStepRange{Step: WireStep{Every: sr.Step.Every, Unit: sr.Step.Unit}}
			if sr.From != nil {
				w.StepRange.From = sr.From.String()
			}
			if sr.To != nil {
				w.StepRange.To = sr.To.String()
			}
		}
		return w
	}
	return WireTime{}
}

// ParseWire performs the structural check: the payload must match the type tag
// and every present string field must parse. Absent optional fields stay nil and
// are reported later by Validate.
func ParseWire(w WireRule) (Rule, ValidationErrors) {
	var c collector

	payloads := map[Type]bool{
		TypeOneTime:  w.OneTime != nil,
		TypeInterval: w.Interval != nil,
		TypeComplex:  w.Complex != nil,
	}
	if _, known := payloads[w.Type]; !known {
		c.malformed("type", "unknown rule type %q", w.Type)
		return nil, c.errs
	}
	for t, present := range payloads {
		if present && t != w.Type {
			c.malformed(payloadPath(t), "payload not allowed for rule type %s", w.Type)
		}
	}
	if !payloads[w.Type] {
		c.malformed(payloadPath(w.Type), "payload required for rule type %s", w.Type)
		return nil, sortErrs(c.errs)
	}

	var r Rule
	switch w.Type {
	case TypeOneTime:
		var ot OneTime
		if w.OneTime.FireAt != "" {
			ldt, err := ParseLocalDateTime(w.OneTime.FireAt)
			if err != nil {
				c.malformed("oneTime.fireAt", "%v", err)
			} else {
				ot.FireAt = &ldt
			}
		}
		r = ot
	case TypeInterval:
		if w.Interval.Unit != "" && !w.Interval.Unit.Valid() {
			c.malformed("interval.unit", "unknown unit %q", w.Interval.Unit)
		}
		r = Interval{Every: w.Interval.Every, Unit: w.Interval.Unit}
	case TypeComplex:
		d, derrs := parseWireDate(w.Complex.Date)
		t, terrs := parseWireTime(w.Complex.Time)
		c.merge(derrs.Prefix("complex.date"))
		c.merge(terrs.Prefix("complex.time"))
		r = Complex{Date: d, Time: t}
	}
	return r, sortErrs(c.errs)
}

func parseWireDate(w WireDate) (DateSelector, ValidationErrors) {
	var c collector
	switch w.Mode {
	case DateDaily:
		return Daily{}, nil
	case DateExact:
		var d ExactDate
		if w.At != nil && *w.At != "" {
			at, err := ParseDate(*w.At)
			if err != nil {
				c.malformed("at", "%v", err)
			} else {
				d.At = &at
			}
		}
		return d, c.errs
	case DateRangeMode:
		var d DateRange
		if w.Range != nil {
			from := parseRequiredDate(&c, "range.from", w.Range.From)
			to := parseRequiredDate(&c, "range.to", w.Range.To)
			if from != nil && to != nil {
				d.Range = &DayRange{From: *from, To: *to}
			}
		}
		return d, c.errs
	case DateWeekDays:
		return WeekDays{Days: w.WeekDays}, nil
	case DateMonthDays:
		return MonthDays{Days: w.MonthDays}, nil
	case DateYearDays:
		return YearDays{Months: w.Months, Days: w.MonthDays}, nil
	case "":
		c.missing("mode")
	default:
		c.malformed("mode", "unknown date mode %q", w.Mode)
	}
	return nil, c.errs
}

func parseRequiredDate(c *collector, path, s string) *Date {
	if s == "" {
		c.missing(path)
		return nil
	}
	d, err := ParseDate(s)
	if err != nil {
		c.malformed(path, "%v", err)
		return nil
	}
	return &d
}

func parseWireTime(w WireTime) (TimeSelector, ValidationErrors) {
	var c collector
	switch w.Mode {
	case TimeExact:
		var t ExactTime
		if w.At != nil && *w.At != "" {
			at, err := ParseTimeOfDay(*w.At)
			if err != nil {
				c.malformed("at", "%v", err)
			} else {
				t.At = &at
			}
		}
		return t, c.errs
	case TimeRangeMode:
		var t TimeRange
		if sr := w.StepRange; sr != nil {
			t.StepRange = &StepRange{
				From: parseOptionalTime(&c, "stepRange.from", sr.From),
				To:   parseOptionalTime(&c, "stepRange.to", sr.To),
				Step: Step{Every: sr.Step.Every, Unit: sr.Step.Unit},
			}
			if sr.Step.Unit != "" && !sr.Step.Unit.Valid() {
				c.malformed("stepRange.step.unit", "unknown unit %q", sr.Step.Unit)
			}
		}
		return t, c.errs
	case "":
		c.missing("mode")
	default:
		c.malformed("mode", "unknown time mode %q", w.Mode)
	}
	return nil, c.errs
}

func parseOptionalTime(c *collector, path, s string) *TimeOfDay {
	if s == "" {
		return nil
	}
	t, err := ParseTimeOfDay(s)
	if err != nil {
		c.malformed(path, "%v", err)
		return nil
	}
	return &t
}

func payloadPath(t Type) string {
	switch t {
	case TypeOneTime:
		return "oneTime"
	case TypeInterval:
		return "interval"
	case TypeComplex:
		return "complex"
	}
	return "type"
}
