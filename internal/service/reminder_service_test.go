package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazhate/remindbot/internal/clients/reminders"
	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/rule"
)

var networkDown = &reminders.APIError{Code: reminders.CodeNetwork, Message: "connection refused"}

func TestCreate_ValidatesBeforeSubmit(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.Create(context.Background(), fx.user, "", "", []domain.Schedule{domain.NewSchedule(rule.Interval{Every: 0, Unit: rule.UnitHours}, "")})

	var verrs rule.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.NotEmpty(t, verrs.At("text"))
	assert.NotEmpty(t, verrs.At("schedules.0.rule.interval.every"))
	assert.Zero(t, fx.api.count("create"))
}

func TestCreate_UsesUserZoneAndStoresSnapshot(t *testing.T) {
	fx := newFixture(t)
	r := fx.create(t, "Stretch", dailyAt(9))

	assert.Equal(t, "Europe/Berlin", r.TimeZone)
	assert.Equal(t, domain.StateActive, r.Status)
	require.Len(t, r.Schedules, 1)

	snap, err := fx.storage.GetSnapshot(r.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "Stretch", snap.Reminder.Text)
}

func TestCreate_WithoutSchedulesIsDraft(t *testing.T) {
	fx := newFixture(t)
	r := fx.create(t, "Someday")
	assert.Equal(t, domain.StateDraft, r.Status)
	assert.Nil(t, r.NextRunAt)
}

func TestList_FallsBackToSnapshotWhenOffline(t *testing.T) {
	fx := newFixture(t)
	a := fx.create(t, "a", dailyAt(9))
	fx.clock.Advance(time.Minute)
	fx.create(t, "b", dailyAt(9))
	fx.clock.Advance(time.Minute)
	c := fx.create(t, "c")

	page, err := fx.svc.List(context.Background(), fx.user, 1)
	require.NoError(t, err)
	assert.False(t, page.Stale)
	require.Len(t, page.Reminders, 3)
	assert.Equal(t, c.ID, page.Reminders[0].ID, "newest first by default")

	fx.api.listErr = networkDown
	page, err = fx.svc.List(context.Background(), fx.user, 1)
	require.NoError(t, err)
	assert.True(t, page.Stale)
	require.Len(t, page.Reminders, 3)
	assert.Equal(t, []string{"c", "b", "a"}, texts(page.Reminders))

	fx.user.Sort = domain.SortSettings{SortBy: domain.SortByCreatedAt, Order: domain.OrderAsc}
	page, err = fx.svc.List(context.Background(), fx.user, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, texts(page.Reminders))
	assert.Equal(t, a.ID, page.Reminders[0].ID)
}

func TestList_NonRecoverableErrorIsReturned(t *testing.T) {
	fx := newFixture(t)
	fx.create(t, "a", dailyAt(9))
	fx.api.listErr = &reminders.APIError{Status: 401, Code: reminders.CodeUnauthorized, Message: "bad init data"}

	_, err := fx.svc.List(context.Background(), fx.user, 1)
	require.Error(t, err)
	assert.Equal(t, reminders.CodeUnauthorized, reminders.Classify(err).Code)
}

func TestStalePagePaging(t *testing.T) {
	fx := newFixture(t)
	for i := range 25 {
		fx.create(t, string(rune('a'+i)))
		fx.clock.Advance(time.Second)
	}
	_, err := fx.svc.Refresh(context.Background(), fx.user)
	require.NoError(t, err)

	fx.api.listErr = networkDown
	page, err := fx.svc.List(context.Background(), fx.user, 2)
	require.NoError(t, err)
	assert.True(t, page.Stale)
	assert.False(t, page.HasNext)
	assert.Len(t, page.Reminders, 5)
}

func TestGet_FallsBackAndForgets(t *testing.T) {
	fx := newFixture(t)
	r := fx.create(t, "a", dailyAt(9))

	fx.api.getErr = networkDown
	got, stale, err := fx.svc.Get(context.Background(), fx.user, r.ID)
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Equal(t, r.ID, got.ID)

	fx.api.getErr = nil
	require.NoError(t, fx.api.Delete(context.Background(), r.ID))
	_, _, err = fx.svc.Get(context.Background(), fx.user, r.ID)
	assert.True(t, reminders.IsNotFound(err))

	snap, err := fx.storage.GetSnapshot(r.ID)
	require.NoError(t, err)
	assert.Nil(t, snap, "a reminder the server no longer has is dropped locally")
}

func TestTransitions(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	r := fx.create(t, "a", dailyAt(9))

	paused, err := fx.svc.Pause(ctx, fx.user, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePaused, paused.Status)
	assert.Nil(t, paused.NextRunAt)

	_, err = fx.svc.Pause(ctx, fx.user, r.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	active, err := fx.svc.Activate(ctx, fx.user, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, active.Status)
	assert.NotNil(t, active.NextRunAt)

	assert.Equal(t, 2, fx.api.count("status"))
}

func TestIllegalTransitionDoesNotCallServer(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	draft := fx.create(t, "draft")

	_, err := fx.svc.Pause(ctx, fx.user, draft.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	_, err = fx.svc.Activate(ctx, fx.user, draft.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
	_, err = fx.svc.ConvertToDraft(ctx, fx.user, draft.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	assert.Zero(t, fx.api.count("status"))
}

func TestConvertEndedToDraft(t *testing.T) {
	fx := newFixture(t)
	r := fx.create(t, "a", dailyAt(9))
	fx.api.end(r.ID)

	got, err := fx.svc.ConvertToDraft(context.Background(), fx.user, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDraft, got.Status)
	assert.Empty(t, got.Schedules)
}

func TestEdit(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	r := fx.create(t, "a", dailyAt(9))

	_, err := fx.svc.Edit(ctx, fx.user, r.ID, "a", r.Schedules)
	assert.ErrorIs(t, err, ErrNoChanges)
	assert.Zero(t, fx.api.count("update"))

	edited := append(r.Schedules, domain.NewSchedule(dailyAt(18), ""))
	got, err := fx.svc.Edit(ctx, fx.user, r.ID, "b", edited)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Text)
	assert.Len(t, got.Schedules, 2)

	got, err = fx.svc.Edit(ctx, fx.user, r.ID, "b", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDraft, got.Status, "removing every schedule makes a draft")
}

func TestEdit_ValidatesEverySchedule(t *testing.T) {
	fx := newFixture(t)
	r := fx.create(t, "a", dailyAt(9))

	bad := domain.NewSchedule(rule.Complex{Date: rule.WeekDays{}, Time: rule.ExactTime{At: &rule.TimeOfDay{Hour: 9}}}, "")
	_, err := fx.svc.Edit(context.Background(), fx.user, r.ID, "a", append(r.Schedules, bad))

	var verrs rule.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.NotEmpty(t, verrs.At("schedules.1.rule.complex.date.weekDays"))
	assert.Zero(t, fx.api.count("update"))
}

func TestEdit_RevalidatesKeptSchedules(t *testing.T) {
	fx := newFixture(t)
	fireAt := &rule.LocalDateTime{Date: rule.Date{Year: 2025, Month: time.October, Day: 22}, Time: rule.TimeOfDay{Hour: 9}}
	r := fx.create(t, "once", rule.OneTime{FireAt: fireAt}, dailyAt(9))

	fx.clock.Set(time.Date(2025, 10, 23, 10, 0, 0, 0, time.UTC))
	_, err := fx.svc.Edit(context.Background(), fx.user, r.ID, "renamed", r.Schedules)

	var verrs rule.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.True(t, verrs.Has(rule.PastFireTime))
	assert.NotEmpty(t, verrs.At("schedules.0.rule.oneTime.fireAt"))
	assert.Zero(t, fx.api.count("update"))
}

func TestEdit_PausedIsLocked(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	r := fx.create(t, "a", dailyAt(9))
	_, err := fx.svc.Pause(ctx, fx.user, r.ID)
	require.NoError(t, err)

	_, err = fx.svc.Edit(ctx, fx.user, r.ID, "b", nil)
	assert.ErrorIs(t, err, ErrEditLocked)
	assert.Zero(t, fx.api.count("update"))
}

func TestEdit_EndedDropsExpiredSchedules(t *testing.T) {
	fx := newFixture(t)
	fireAt := &rule.LocalDateTime{Date: rule.Date{Year: 2025, Month: time.October, Day: 22}, Time: rule.TimeOfDay{Hour: 9}}
	r := fx.create(t, "once", rule.OneTime{FireAt: fireAt})

	fx.clock.Set(time.Date(2025, 10, 23, 10, 0, 0, 0, time.UTC))
	fx.api.end(r.ID)

	edited := append(r.Schedules, domain.NewSchedule(dailyAt(8), ""))
	got, err := fx.svc.Edit(context.Background(), fx.user, r.ID, "once", edited)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, got.Status)
	require.Len(t, got.Schedules, 1)
	assert.Equal(t, rule.TypeComplex, got.Schedules[0].Rule.Type())
}

func TestMutationInFlight(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	r := fx.create(t, "a", dailyAt(9))
	other := fx.create(t, "b")

	fx.api.entered = make(chan struct{})
	fx.api.release = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := fx.svc.Pause(ctx, fx.user, r.ID)
		done <- err
	}()
	<-fx.api.entered

	_, err := fx.svc.Pause(ctx, fx.user, r.ID)
	assert.ErrorIs(t, err, ErrMutationInFlight)
	assert.ErrorIs(t, fx.svc.Delete(ctx, fx.user, r.ID), ErrMutationInFlight)
	require.NoError(t, fx.svc.Delete(ctx, fx.user, other.ID), "other reminders are not blocked")

	close(fx.api.release)
	require.NoError(t, <-done)

	fx.api.entered = nil
	require.NoError(t, fx.svc.Delete(ctx, fx.user, r.ID))
}

func TestDelete_MissingOnServerStillForgets(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	r := fx.create(t, "a", dailyAt(9))
	require.NoError(t, fx.api.Delete(ctx, r.ID))

	require.NoError(t, fx.svc.Delete(ctx, fx.user, r.ID))
	snap, err := fx.storage.GetSnapshot(r.ID)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestUpcoming(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	// 10:00 UTC is 12:00 in Berlin.
	morning := fx.create(t, "morning", dailyAt(9))
	evening := fx.create(t, "evening", dailyAt(18))
	fx.create(t, "draft")
	paused := fx.create(t, "paused", dailyAt(11))
	_, err := fx.svc.Pause(ctx, fx.user, paused.ID)
	require.NoError(t, err)

	got, err := fx.svc.Upcoming(fx.user, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, evening.ID, got[0].Reminder.ID)
	assert.Equal(t, time.Date(2025, 10, 21, 16, 0, 0, 0, time.UTC), got[0].At.UTC())
	assert.Equal(t, morning.ID, got[1].Reminder.ID)
	assert.Equal(t, time.Date(2025, 10, 22, 7, 0, 0, 0, time.UTC), got[1].At.UTC())

	got, err = fx.svc.Upcoming(fx.user, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNextRun_ProjectsWhenServerValuePassed(t *testing.T) {
	stale := testNow.Add(-time.Hour)
	r := &domain.Reminder{
		Status:    domain.StateActive,
		TimeZone:  "UTC",
		NextRunAt: &stale,
		Schedules: []domain.Schedule{{Rule: dailyAt(12)}},
	}
	got := NextRun(r, testNow)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2025, 10, 21, 12, 0, 0, 0, time.UTC), *got)

	r.Status = domain.StatePaused
	assert.Nil(t, NextRun(r, testNow))
}

func TestRefreshDue(t *testing.T) {
	fx := newFixture(t)
	fx.create(t, "evening", dailyAt(18))

	n, err := fx.svc.RefreshDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	fx.clock.Set(time.Date(2025, 10, 21, 17, 0, 0, 0, time.UTC))
	n, err = fx.svc.RefreshDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, fx.api.count("list"))
}

func TestSortReminders(t *testing.T) {
	t0 := testNow
	a := &domain.Reminder{Text: "a", CreatedAt: t0, UpdatedAt: t0.Add(3 * time.Hour)}
	b := &domain.Reminder{Text: "b", CreatedAt: t0.Add(time.Hour), UpdatedAt: t0.Add(time.Hour)}
	c := &domain.Reminder{Text: "c", CreatedAt: t0.Add(2 * time.Hour), UpdatedAt: t0}

	list := []*domain.Reminder{a, b, c}
	SortReminders(list, domain.SortSettings{})
	assert.Equal(t, []string{"c", "b", "a"}, texts(list))

	SortReminders(list, domain.SortSettings{SortBy: domain.SortByChangedAt, Order: domain.OrderAsc})
	assert.Equal(t, []string{"c", "b", "a"}, texts(list))

	SortReminders(list, domain.SortSettings{SortBy: domain.SortByChangedAt, Order: domain.OrderDesc})
	assert.Equal(t, []string{"a", "b", "c"}, texts(list))
}

func texts(list []*domain.Reminder) []string {
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.Text
	}
	return out
}
