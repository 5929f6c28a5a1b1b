package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 10, 19, 10, 0, 0, 0, time.UTC)

func ldt(t *testing.T, s string) *LocalDateTime {
	t.Helper()
	v, err := ParseLocalDateTime(s)
	require.NoError(t, err)
	return &v
}

func tod(t *testing.T, s string) *TimeOfDay {
	t.Helper()
	v, err := ParseTimeOfDay(s)
	require.NoError(t, err)
	return &v
}

func TestValidate_OneTime(t *testing.T) {
	errs := Validate(OneTime{FireAt: ldt(t, "2025-10-19T11:00:00")}, time.UTC, testNow)
	assert.Empty(t, errs)

	errs = Validate(OneTime{FireAt: ldt(t, "2025-10-19T10:00:00")}, time.UTC, testNow)
	require.Len(t, errs, 1)
	assert.Equal(t, PastFireTime, errs[0].Kind)
	assert.Equal(t, "oneTime.fireAt", errs[0].Path)
	assert.Equal(t, KeyPastFireTime, errs[0].Key)

	errs = Validate(OneTime{}, time.UTC, testNow)
	assert.True(t, errs.Has(MissingSelection))
}

func TestValidate_OneTimeUsesZone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 18:30 in Tokyo is 09:30 UTC, already behind testNow.
	errs := Validate(OneTime{FireAt: ldt(t, "2025-10-19T18:30:00")}, loc, testNow)
	assert.True(t, errs.Has(PastFireTime))

	errs = Validate(OneTime{FireAt: ldt(t, "2025-10-19T19:30:00")}, loc, testNow)
	assert.Empty(t, errs)
}

func TestValidate_Interval(t *testing.T) {
	for _, every := range []int{0, -3} {
		errs := Validate(Interval{Every: every, Unit: UnitHours}, time.UTC, testNow)
		require.Len(t, errs, 1, "every=%d", every)
		assert.Equal(t, InvalidQuantity, errs[0].Kind)
		assert.Equal(t, "interval.every", errs[0].Path)
	}
	for _, every := range []int{1, 2, 90} {
		assert.Empty(t, Validate(Interval{Every: every, Unit: UnitMinutes}, time.UTC, testNow), "every=%d", every)
	}

	assert.Empty(t, Validate(Interval{Every: UnitDays.MaxEvery(MaxIntervalSpan), Unit: UnitDays}, time.UTC, testNow))
	for _, u := range []Unit{UnitMinutes, UnitHours, UnitDays} {
		for _, every := range []int{u.MaxEvery(MaxIntervalSpan) + 1, 1 << 40} {
			errs := Validate(Interval{Every: every, Unit: u}, time.UTC, testNow)
			require.Len(t, errs, 1, "every=%d %s", every, u)
			assert.Equal(t, KeyInvalidQuantity, errs[0].Key)
		}
	}

	errs := Validate(Interval{Every: 1}, time.UTC, testNow)
	assert.True(t, errs.Has(MissingSelection))
	errs = Validate(Interval{Every: 1, Unit: "WEEKS"}, time.UTC, testNow)
	assert.True(t, errs.Has(MalformedRule))
}

func TestValidate_ComplexDate(t *testing.T) {
	at := tod(t, "09:00")
	tests := []struct {
		name string
		date DateSelector
		path string
		kind Kind
	}{
		{"empty week days", WeekDays{}, "date.weekDays", MissingSelection},
		{"week day out of range", WeekDays{Days: []int{1, 8}}, "date.weekDays", InvalidQuantity},
		{"empty month days", MonthDays{}, "date.monthDays", MissingSelection},
		{"month day out of range", MonthDays{Days: []int{0}}, "date.monthDays", InvalidQuantity},
		{"year days without months", YearDays{Days: []int{1}}, "date.months", MissingSelection},
		{"year days without days", YearDays{Months: []int{1}}, "date.monthDays", MissingSelection},
		{"month 13", YearDays{Months: []int{13}, Days: []int{1}}, "date.months", InvalidQuantity},
		{"exact date without at", ExactDate{}, "date.at", MissingSelection},
		{"range without bounds", DateRange{}, "date.range", MissingSelection},
		{"no date mode", nil, "date.mode", MissingSelection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(Complex{Date: tt.date, Time: ExactTime{At: at}}, time.UTC, testNow)
			found := errs.At(tt.path)
			require.Len(t, found, 1, "errors: %v", errs)
			assert.Equal(t, tt.kind, found[0].Kind)
			assert.Equal(t, "complex."+tt.path, found[0].Path)
		})
	}
}

func TestValidate_ReversedRangeIsAccepted(t *testing.T) {
	r := Complex{
		Date: DateRange{Range: &DayRange{
			From: Date{2025, time.December, 1},
			To:   Date{2025, time.November, 1},
		}},
		Time: ExactTime{At: tod(t, "09:00")},
	}
	assert.Empty(t, Validate(r, time.UTC, testNow))
}

func TestValidate_ComplexTimeRange(t *testing.T) {
	r := Complex{
		Date: Daily{},
		Time: TimeRange{StepRange: &StepRange{Step: Step{Every: -1}}},
	}
	errs := Validate(r, time.UTC, testNow)

	byPath := errs.ByPath()
	assert.Equal(t, []string{KeyRequired}, byPath["complex.time.stepRange.from"])
	assert.Equal(t, []string{KeyRequired}, byPath["complex.time.stepRange.to"])
	assert.Equal(t, []string{KeyInvalidQuantity}, byPath["complex.time.stepRange.step.every"])
	assert.Equal(t, []string{KeyRequired}, byPath["complex.time.stepRange.step.unit"])

	r.Time = TimeRange{StepRange: &StepRange{From: tod(t, "09:00"), To: tod(t, "12:00")}}
	errs = Validate(r, time.UTC, testNow)
	require.NotEmpty(t, errs.At("stepRange.step.every"))
	assert.Equal(t, MissingSelection, errs.At("stepRange.step.every")[0].Kind)
}

func TestValidate_TimeRangeStepAtMostADay(t *testing.T) {
	window := func(every int, unit Unit) Complex {
		return Complex{Date: Daily{}, Time: TimeRange{StepRange: &StepRange{
			From: tod(t, "09:00"), To: tod(t, "18:00"), Step: Step{Every: every, Unit: unit},
		}}}
	}
	assert.Empty(t, Validate(window(24, UnitHours), time.UTC, testNow))
	assert.Empty(t, Validate(window(1440, UnitMinutes), time.UTC, testNow))
	assert.Empty(t, Validate(window(1, UnitDays), time.UTC, testNow))

	for _, r := range []Complex{window(25, UnitHours), window(2, UnitDays), window(1<<42, UnitHours)} {
		errs := Validate(r, time.UTC, testNow)
		assert.Equal(t, []string{KeyInvalidQuantity}, errs.ByPath()["complex.time.stepRange.step.every"])
	}
}

func TestValidate_AggregatesEveryViolation(t *testing.T) {
	errs := Validate(Complex{Date: WeekDays{}, Time: ExactTime{}}, time.UTC, testNow)
	assert.Len(t, errs, 2)
	assert.Error(t, errs.Err())
	assert.Contains(t, errs.Error(), "2 validation errors")
}

func TestValidate_NilRule(t *testing.T) {
	errs := Validate(nil, nil, testNow)
	require.Len(t, errs, 1)
	assert.Equal(t, MalformedRule, errs[0].Kind)
	assert.Equal(t, "type", errs[0].Path)
}

func TestValidateWire(t *testing.T) {
	w := WireRule{Type: TypeComplex, Complex: &WireComplex{
		Date: WireDate{Mode: DateWeekDays},
		Time: WireTime{Mode: TimeExact, At: ptr("25:00:00")},
	}}
	r, errs := ValidateWire(w, time.UTC, testNow)
	require.NotNil(t, r)
	assert.Len(t, errs.At("date.weekDays"), 1)
	assert.Len(t, errs.At("time.at"), 1, "parse failure and missing value must not both be reported: %v", errs)
	assert.Equal(t, MalformedRule, errs.At("time.at")[0].Kind)

	_, errs = ValidateWire(WireRule{Type: "WEEKLY"}, time.UTC, testNow)
	assert.True(t, errs.Has(MalformedRule))
}

func TestCheckScheduleCount(t *testing.T) {
	assert.Nil(t, CheckScheduleCount(0))
	assert.Nil(t, CheckScheduleCount(MaxSchedules))

	err := CheckScheduleCount(MaxSchedules + 1)
	require.NotNil(t, err)
	assert.Equal(t, "schedules", err.Path)
	assert.Equal(t, KeyTooManySchedule, err.Key)
}
