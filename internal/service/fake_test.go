package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tazhate/remindbot/internal/clients/reminders"
	"github.com/tazhate/remindbot/internal/clock"
	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/rule"
	"github.com/tazhate/remindbot/internal/storage"
)

// fakeAPI is an in-memory reminders server.
type fakeAPI struct {
	clock *clock.Fixed

	mu        sync.Mutex
	reminders map[uuid.UUID]*domain.Reminder
	order     []uuid.UUID
	calls     map[string]int

	listErr error
	getErr  error

	// When set, ChangeStatus signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func newFakeAPI(c *clock.Fixed) *fakeAPI {
	return &fakeAPI{clock: c, reminders: map[uuid.UUID]*domain.Reminder{}, calls: map[string]int{}}
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) settle(r *domain.Reminder) {
	now := f.clock.Now()
	r.UpdatedAt = now
	r.NextRunAt = nil
	if r.Status == domain.StateActive {
		r.NextRunAt = r.ProjectedNextRun(now)
	}
}

func (f *fakeAPI) List(_ context.Context, q domain.ListQuery) (*domain.PagedReminders, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["list"]++
	if f.listErr != nil {
		return nil, f.listErr
	}
	all := make([]*domain.Reminder, 0, len(f.order))
	for _, id := range f.order {
		all = append(all, f.reminders[id])
	}
	SortReminders(all, q.Sort)
	start := min((q.Page-1)*q.PageSize, len(all))
	end := min(start+q.PageSize, len(all))
	page := &domain.PagedReminders{HasNext: end < len(all)}
	for _, r := range all[start:end] {
		page.Reminders = append(page.Reminders, domain.ReminderToResponse(r))
	}
	return page, nil
}

func (f *fakeAPI) Get(_ context.Context, id uuid.UUID) (*domain.ReminderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["get"]++
	if f.getErr != nil {
		return nil, f.getErr
	}
	r, ok := f.reminders[id]
	if !ok {
		return nil, &reminders.APIError{Status: 404, Code: reminders.CodeNotFound, Message: "not found"}
	}
	dto := domain.ReminderToResponse(r)
	return &dto, nil
}

func toSchedule(req domain.ScheduleRequest) domain.Schedule {
	r, errs := rule.ParseWire(req.Rule)
	if len(errs) > 0 {
		panic(errs)
	}
	return domain.Schedule{ID: uuid.New(), Rule: r, TimeZone: req.TimeZone}
}

func (f *fakeAPI) Create(_ context.Context, req domain.CreateReminderRequest) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create"]++
	r := &domain.Reminder{
		ID:        uuid.New(),
		Text:      req.Text,
		TimeZone:  req.TimeZone,
		Status:    domain.StateDraft,
		CreatedAt: f.clock.Now(),
	}
	for _, s := range req.Schedules {
		r.Schedules = append(r.Schedules, toSchedule(s))
	}
	if len(r.Schedules) > 0 {
		r.Status = domain.StateActive
	}
	f.settle(r)
	f.reminders[r.ID] = r
	f.order = append(f.order, r.ID)
	return r.ID, nil
}

func (f *fakeAPI) Update(_ context.Context, id uuid.UUID, req domain.UpdateReminderRequest) (*domain.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["update"]++
	r, ok := f.reminders[id]
	if !ok {
		return nil, &reminders.APIError{Status: 404, Code: reminders.CodeNotFound}
	}
	if req.Text != nil {
		r.Text = *req.Text
	}
	if ops := req.ScheduleOperations; ops != nil {
		var kept []domain.Schedule
		for _, s := range r.Schedules {
			deleted := false
			for _, d := range ops.Delete {
				deleted = deleted || d == s.ID
			}
			if !deleted {
				kept = append(kept, s)
			}
		}
		for _, s := range ops.Add {
			kept = append(kept, toSchedule(s))
		}
		r.Schedules = kept
	}
	switch {
	case len(r.Schedules) == 0:
		r.Status = domain.StateDraft
	case r.Status != domain.StatePaused:
		r.Status = domain.StateActive
	}
	f.settle(r)
	return &domain.UpdateResult{HasChanges: true, UpdatedReminder: domain.ReminderToResponse(r)}, nil
}

func (f *fakeAPI) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	if _, ok := f.reminders[id]; !ok {
		return &reminders.APIError{Status: 404, Code: reminders.CodeNotFound}
	}
	delete(f.reminders, id)
	for i, o := range f.order {
		if o == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeAPI) ChangeStatus(_ context.Context, id uuid.UUID, status domain.State) (*domain.StatusResult, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["status"]++
	r, ok := f.reminders[id]
	if !ok {
		return nil, &reminders.APIError{Status: 404, Code: reminders.CodeNotFound}
	}
	r.Status = status
	if status == domain.StateDraft {
		r.Schedules = nil
	}
	f.settle(r)
	dto := domain.ReminderToResponse(r)
	if status == domain.StateActive {
		return &domain.StatusResult{Reminder: &dto}, nil
	}
	return &domain.StatusResult{UpdatedReminder: &dto}, nil
}

// end marks a reminder as fired out, which only the server does.
func (f *fakeAPI) end(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.reminders[id]
	r.Status = domain.StateEnded
	f.settle(r)
}

type fixture struct {
	clock   *clock.Fixed
	api     *fakeAPI
	storage *storage.Storage
	svc     *ReminderService
	user    *domain.User
}

var testNow = time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := clock.NewFixed(testNow)
	st, err := storage.New(filepath.Join(t.TempDir(), "remindbot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	u := &domain.User{TelegramID: 100, Name: "alice", TimeZone: "Europe/Berlin", Locale: "en"}
	require.NoError(t, st.CreateUser(u))

	api := newFakeAPI(c)
	return &fixture{
		clock:   c,
		api:     api,
		storage: st,
		svc:     NewReminderService(api, st, c, "UTC", nil),
		user:    u,
	}
}

func dailyAt(hour int) rule.Rule {
	return rule.Complex{Date: rule.Daily{}, Time: rule.ExactTime{At: &rule.TimeOfDay{Hour: hour}}}
}

func (fx *fixture) create(t *testing.T, text string, rules ...rule.Rule) *domain.Reminder {
	t.Helper()
	var schedules []domain.Schedule
	for _, r := range rules {
		schedules = append(schedules, domain.NewSchedule(r, ""))
	}
	r, err := fx.svc.Create(context.Background(), fx.user, text, "", schedules)
	require.NoError(t, err)
	return r
}
