package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCalendar struct {
	mu      sync.Mutex
	objects map[string]*ical.Calendar
	puts    int
	failPut bool
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{objects: map[string]*ical.Calendar{}}
}

func (f *fakeCalendar) IsConfigured() bool { return true }

func (f *fakeCalendar) PutObject(_ context.Context, uid string, cal *ical.Calendar) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut {
		return "", errors.New("507 insufficient storage")
	}
	f.puts++
	path := "/cal/" + uid + ".ics"
	f.objects[path] = cal
	return path, nil
}

func (f *fakeCalendar) DeleteObject(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, path)
	return nil
}

func TestCalendarSync(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	store := newFakeCalendar()
	cal := NewCalendarService(fx.storage, store, fx.clock, nil)
	require.True(t, cal.IsConfigured())

	a := fx.create(t, "a", dailyAt(9))
	b := fx.create(t, "b", dailyAt(18))
	fx.create(t, "draft")

	res, err := cal.SyncUser(ctx, fx.user)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Empty(t, res.Errors)
	assert.Len(t, store.objects, 2)

	res, err = cal.SyncUser(ctx, fx.user)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Unchanged)
	assert.Equal(t, 2, store.puts, "unchanged objects are not pushed again")

	_, err = fx.svc.Edit(ctx, fx.user, a.ID, "a, edited", a.Schedules)
	require.NoError(t, err)
	_, err = fx.svc.Pause(ctx, fx.user, b.ID)
	require.NoError(t, err)

	res, err = cal.SyncUser(ctx, fx.user)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added, "re-added schedule gets a new object")
	assert.Equal(t, 2, res.Deleted, "old schedule and paused reminder are removed")
	assert.Len(t, store.objects, 1)

	last, err := cal.LastSync(fx.user)
	require.NoError(t, err)
	assert.True(t, last.Equal(testNow))
}

func TestCalendarSync_PutFailureIsRetriedNextRun(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	store := newFakeCalendar()
	cal := NewCalendarService(fx.storage, store, fx.clock, nil)
	fx.create(t, "a", dailyAt(9))

	store.failPut = true
	res, err := cal.SyncAll(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Errors, 1)

	store.failPut = false
	res, err = cal.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
}

func TestCalendarExport(t *testing.T) {
	fx := newFixture(t)
	cal := NewCalendarService(fx.storage, nil, fx.clock, nil)
	assert.False(t, cal.IsConfigured())
	fx.create(t, "a", dailyAt(9))

	out, err := cal.Export(fx.user)
	require.NoError(t, err)
	assert.Len(t, out.Events(), 1)

	_, err = cal.SyncUser(context.Background(), fx.user)
	assert.Error(t, err)
}
