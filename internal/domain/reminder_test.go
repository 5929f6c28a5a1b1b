package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazhate/remindbot/internal/rule"
)

var now = time.Date(2025, 10, 19, 10, 0, 0, 0, time.UTC)

func dailyAt(h int) rule.Rule {
	return rule.Complex{Date: rule.Daily{}, Time: rule.ExactTime{At: &rule.TimeOfDay{Hour: h}}}
}

func oneTimeAt(s string) rule.Rule {
	ldt, err := rule.ParseLocalDateTime(s)
	if err != nil {
		panic(err)
	}
	return rule.OneTime{FireAt: &ldt}
}

const sampleReminder = `{
	"id": "550e8400-e29b-41d4-a716-446655440003",
	"text": "Morning standup",
	"timeZone": "Europe/Berlin",
	"status": "ACTIVE",
	"createdAt": "2025-01-03T07:00:00Z",
	"updatedAt": "2025-01-03T07:00:00.123Z",
	"nextRunAt": "2025-10-20T09:00:00",
	"schedules": [{
		"id": "550e8400-e29b-41d4-a716-446655440013",
		"rule": {"type": "COMPLEX", "complex": {
			"date": {"mode": "DAILY"},
			"time": {"mode": "EXACT_TIME", "at": "09:00:00"}
		}},
		"lastRunAt": "2025-10-19T07:00:00Z"
	}]
}`

func TestReminderFromResponse(t *testing.T) {
	var dto ReminderResponse
	require.NoError(t, json.Unmarshal([]byte(sampleReminder), &dto))

	r, err := ReminderFromResponse(dto)
	require.NoError(t, err)

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	assert.Equal(t, StateActive, r.Status)
	require.NotNil(t, r.NextRunAt)
	assert.True(t, r.NextRunAt.Equal(time.Date(2025, 10, 20, 9, 0, 0, 0, berlin)), "naive nextRunAt is read in the reminder zone")
	require.Len(t, r.Schedules, 1)
	assert.True(t, rule.Equal(dailyAt(9), r.Schedules[0].Rule))
	require.NotNil(t, r.Schedules[0].LastRunAt)

	assert.Empty(t, r.CheckInvariants(time.Date(2025, 10, 19, 12, 0, 0, 0, berlin)))

	back := ReminderToResponse(r)
	again, err := ReminderFromResponse(back)
	require.NoError(t, err)
	if diff := cmp.Diff(r, again, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("snapshot round trip (-want +got):\n%s", diff)
	}
}

func TestReminderFromResponse_RejectsBadRule(t *testing.T) {
	bad := strings.Replace(sampleReminder, `"mode": "DAILY"`, `"mode": "HOURLY"`, 1)
	var dto ReminderResponse
	require.NoError(t, json.Unmarshal([]byte(bad), &dto))

	_, err := ReminderFromResponse(dto)
	require.Error(t, err)
	var errs rule.ValidationErrors
	assert.ErrorAs(t, err, &errs)
}

func TestCheckInvariants(t *testing.T) {
	next := time.Date(2025, 10, 20, 9, 0, 0, 0, time.UTC)
	wrong := next.Add(time.Hour)
	sched := Schedule{ID: uuid.New(), Rule: dailyAt(9)}

	tests := []struct {
		name string
		r    Reminder
		want []error
	}{
		{"draft with schedules", Reminder{Status: StateDraft, Schedules: []Schedule{sched}}, []error{ErrDraftWithSchedules}},
		{"active without schedules", Reminder{Status: StateActive}, []error{ErrActiveNoSchedules}},
		{"paused with next run", Reminder{Status: StatePaused, NextRunAt: &next, Schedules: []Schedule{sched}}, []error{ErrPausedWithNextRun}},
		{"next run mismatch", Reminder{Status: StateActive, NextRunAt: &wrong, Schedules: []Schedule{sched}}, []error{ErrNextRunMismatch}},
		{
			"ended with future one-time",
			Reminder{Status: StateEnded, Schedules: []Schedule{{ID: uuid.New(), Rule: oneTimeAt("2026-01-01T00:00:00")}}},
			[]error{ErrEndedWithLiveSchedule},
		},
		{"consistent", Reminder{Status: StateActive, NextRunAt: &next, Schedules: []Schedule{sched}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.r.CheckInvariants(now)
			require.Len(t, got, len(tt.want), "%v", got)
			for i := range tt.want {
				assert.ErrorIs(t, got[i], tt.want[i])
			}
		})
	}
}

func TestProjectedNextRun_SkipsExpired(t *testing.T) {
	r := Reminder{TimeZone: "UTC", Schedules: []Schedule{
		{Rule: oneTimeAt("2025-10-19T09:00:00")},
		{Rule: dailyAt(9), TimeZone: "Asia/Tokyo"},
	}}
	got := r.ProjectedNextRun(now)
	require.NotNil(t, got)
	// 09:00 in Tokyo is midnight UTC.
	assert.True(t, got.Equal(time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC)))

	assert.Len(t, FilterExpired(r.Schedules, r.TimeZone, now), 1)
}

func TestValidateCreate(t *testing.T) {
	errs := ValidateCreate("", "Mars/Base", []Schedule{
		NewSchedule(rule.Interval{Every: 0, Unit: rule.UnitHours}, ""),
		NewSchedule(oneTimeAt("2025-10-20T09:00:00"), "UTC"),
	}, now)

	byPath := errs.ByPath()
	assert.Equal(t, []string{"validation.textRequired"}, byPath["text"])
	assert.Equal(t, []string{"validation.invalidTimeZone"}, byPath["timeZone"])
	assert.Equal(t, []string{rule.KeyInvalidQuantity}, byPath["schedules.0.rule.interval.every"])
	assert.NotContains(t, byPath, "schedules.1.rule.oneTime.fireAt")

	many := make([]Schedule, rule.MaxSchedules+1)
	for i := range many {
		many[i] = NewSchedule(dailyAt(i), "UTC")
	}
	errs = ValidateCreate("ok", "UTC", many, now)
	require.Len(t, errs, 1)
	assert.Equal(t, "schedules", errs[0].Path)

	errs = ValidateCreate(strings.Repeat("я", MaxTextLength), "UTC", nil, now)
	assert.Empty(t, errs)
	errs = ValidateCreate(strings.Repeat("я", MaxTextLength+1), "UTC", nil, now)
	assert.True(t, errs.Has(rule.InvalidQuantity))
}

func TestValidateUpdate_ChecksEverySchedule(t *testing.T) {
	edited := make([]Schedule, 4, 6)
	for i := range edited {
		edited[i] = Schedule{ID: uuid.New(), Rule: dailyAt(i)}
	}
	edited = append(edited, NewSchedule(dailyAt(8), ""), NewSchedule(rule.OneTime{}, ""))
	errs := ValidateUpdate("text", "UTC", edited, now)

	assert.Len(t, errs.At("schedules.5.rule.oneTime.fireAt"), 1)
	assert.Len(t, errs.At("schedules"), 1)

	kept := Schedule{ID: uuid.New(), Rule: rule.Interval{Every: 0, Unit: rule.UnitHours}}
	errs = ValidateUpdate("text", "UTC", []Schedule{kept}, now)
	assert.Equal(t, []string{rule.KeyInvalidQuantity}, errs.ByPath()["schedules.0.rule.interval.every"])
}
