package rule

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_RoundTrip(t *testing.T) {
	rules := []Rule{
		OneTime{FireAt: ldt(t, "2026-01-02T03:04:05")},
		Interval{Every: 8, Unit: UnitHours},
		Complex{Date: Daily{}, Time: ExactTime{At: tod(t, "09:00:00")}},
		Complex{Date: ExactDate{At: &Date{2026, 3, 8}}, Time: ExactTime{At: tod(t, "07:15:00")}},
		Complex{
			Date: DateRange{Range: &DayRange{From: Date{2026, 1, 1}, To: Date{2026, 1, 31}}},
			Time: TimeRange{StepRange: &StepRange{From: tod(t, "08:00"), To: tod(t, "18:00"), Step: Step{Every: 2, Unit: UnitHours}}},
		},
		Complex{Date: WeekDays{Days: []int{1, 3, 5}}, Time: ExactTime{At: tod(t, "17:00:00")}},
		Complex{Date: MonthDays{Days: []int{1, 15}}, Time: ExactTime{At: tod(t, "12:00:00")}},
		Complex{Date: YearDays{Months: []int{2}, Days: []int{29}}, Time: ExactTime{At: tod(t, "00:00:00")}},
	}
	for _, r := range rules {
		data, err := Marshal(r)
		require.NoError(t, err)

		got, err := Unmarshal(data)
		require.NoError(t, err, "payload %s", data)
		if diff := cmp.Diff(r, got); diff != "" {
			t.Errorf("round trip of %s (-want +got):\n%s", data, diff)
		}
	}
}

func TestMarshal_WireShape(t *testing.T) {
	r := Complex{Date: WeekDays{Days: []int{1, 3}}, Time: ExactTime{At: tod(t, "17:00")}}
	data, err := Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "COMPLEX",
		"complex": {
			"date": {"mode": "WEEK_DAYS", "weekDays": [1, 3]},
			"time": {"mode": "EXACT_TIME", "at": "17:00:00"}
		}
	}`, string(data))

	data, err = Marshal(OneTime{FireAt: ldt(t, "2026-05-01T09:30")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ONE_TIME","oneTime":{"fireAt":"2026-05-01T09:30:00"}}`, string(data))
}

func TestUnmarshal_Structural(t *testing.T) {
	tests := []struct {
		name string
		in   string
		path string
		kind Kind
	}{
		{"unknown type", `{"type":"WEEKLY"}`, "type", MalformedRule},
		{"missing payload", `{"type":"INTERVAL"}`, "interval", MalformedRule},
		{"foreign payload", `{"type":"INTERVAL","interval":{"every":1,"unit":"DAYS"},"oneTime":{"fireAt":"2026-01-01T00:00:00"}}`, "oneTime", MalformedRule},
		{"zoned fire time", `{"type":"ONE_TIME","oneTime":{"fireAt":"2026-01-01T00:00:00Z"}}`, "oneTime.fireAt", MalformedRule},
		{"unknown unit", `{"type":"INTERVAL","interval":{"every":1,"unit":"WEEKS"}}`, "interval.unit", MalformedRule},
		{"unknown date mode", `{"type":"COMPLEX","complex":{"date":{"mode":"HOURLY"},"time":{"mode":"EXACT_TIME","at":"09:00:00"}}}`, "complex.date.mode", MalformedRule},
		{"empty range bound", `{"type":"COMPLEX","complex":{"date":{"mode":"RANGE","range":{"from":"2026-01-01","to":""}},"time":{"mode":"EXACT_TIME","at":"09:00:00"}}}`, "complex.date.range.to", MissingSelection},
		{"bad step time", `{"type":"COMPLEX","complex":{"date":{"mode":"DAILY"},"time":{"mode":"RANGE","stepRange":{"from":"9am","to":"10:00","step":{"every":1,"unit":"HOURS"}}}}}`, "complex.time.stepRange.from", MalformedRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.in))
			require.Error(t, err)

			var errs ValidationErrors
			require.ErrorAs(t, err, &errs)
			found := errs.At(tt.path)
			require.NotEmpty(t, found, "errors: %v", errs)
			assert.Equal(t, tt.kind, found[0].Kind)
		})
	}
}

func TestUnmarshal_InvalidJSON(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":`))
	require.Error(t, err)

	var errs ValidationErrors
	assert.NotErrorAs(t, err, &errs)
}

func TestEqual_ComparesSetsAsSets(t *testing.T) {
	a := Complex{Date: WeekDays{Days: []int{5, 1, 3, 3}}, Time: ExactTime{At: tod(t, "17:00")}}
	b := Complex{Date: WeekDays{Days: []int{1, 3, 5}}, Time: ExactTime{At: tod(t, "17:00:00")}}
	assert.True(t, Equal(a, b))
	assert.Equal(t, []int{5, 1, 3, 3}, a.Date.(WeekDays).Days, "input must not be mutated")

	c := Complex{Date: WeekDays{Days: []int{1, 3}}, Time: ExactTime{At: tod(t, "17:00")}}
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(a, nil))
	assert.True(t, Equal(nil, nil))
}
