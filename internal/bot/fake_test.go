package bot

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tazhate/remindbot/config"
	"github.com/tazhate/remindbot/internal/clients/reminders"
	"github.com/tazhate/remindbot/internal/clock"
	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/rule"
	"github.com/tazhate/remindbot/internal/service"
	"github.com/tazhate/remindbot/internal/storage"
)

// fakeSender records everything the bot sends.
type fakeSender struct {
	mu     sync.Mutex
	sent   []tgbotapi.Chattable
	nextID int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

// texts returns the text of every sent or edited message.
func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeSender) last() string {
	texts := f.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

// lastKeyboard returns the callback data of the last message with a keyboard.
func (f *fakeSender) lastKeyboard() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		var kb *tgbotapi.InlineKeyboardMarkup
		switch m := f.sent[i].(type) {
		case tgbotapi.MessageConfig:
			if k, ok := m.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); ok {
				kb = &k
			}
		case tgbotapi.EditMessageTextConfig:
			kb = m.ReplyMarkup
		}
		if kb == nil {
			continue
		}
		var data []string
		for _, row := range kb.InlineKeyboard {
			for _, btn := range row {
				if btn.CallbackData != nil {
					data = append(data, *btn.CallbackData)
				}
			}
		}
		return data
	}
	return nil
}

func (f *fakeSender) callbacks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if cb, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb.Text)
		}
	}
	return out
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

// fakeAPI is a minimal in-memory reminders server.
type fakeAPI struct {
	mu        sync.Mutex
	clock     *clock.Fixed
	reminders map[uuid.UUID]*domain.Reminder
	order     []uuid.UUID
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
	all := make([]*domain.Reminder, 0, len(f.order))
	for _, id := range f.order {
		all = append(all, f.reminders[id])
	}
	service.SortReminders(all, q.Sort)
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
	r, ok := f.reminders[id]
	if !ok {
		return nil, &reminders.APIError{Status: 404, Code: reminders.CodeNotFound}
	}
	dto := domain.ReminderToResponse(r)
	return &dto, nil
}

func (f *fakeAPI) Create(_ context.Context, req domain.CreateReminderRequest) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &domain.Reminder{
		ID:        uuid.New(),
		Text:      req.Text,
		TimeZone:  req.TimeZone,
		Status:    domain.StateDraft,
		CreatedAt: f.clock.Now(),
	}
	for _, s := range req.Schedules {
		parsed, errs := rule.ParseWire(s.Rule)
		if len(errs) > 0 {
			return uuid.Nil, errs
		}
		r.Schedules = append(r.Schedules, domain.Schedule{ID: uuid.New(), Rule: parsed, TimeZone: s.TimeZone})
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
	r, ok := f.reminders[id]
	if !ok {
		return nil, &reminders.APIError{Status: 404, Code: reminders.CodeNotFound}
	}
	if req.Text != nil {
		r.Text = *req.Text
	}
	if ops := req.ScheduleOperations; ops != nil {
		r.Schedules = slices.DeleteFunc(r.Schedules, func(s domain.Schedule) bool {
			return slices.Contains(ops.Delete, s.ID)
		})
		for _, s := range ops.Add {
			parsed, errs := rule.ParseWire(s.Rule)
			if len(errs) > 0 {
				return nil, errs
			}
			r.Schedules = append(r.Schedules, domain.Schedule{ID: uuid.New(), Rule: parsed, TimeZone: s.TimeZone})
		}
		switch {
		case len(r.Schedules) == 0:
			r.Status = domain.StateDraft
		case len(ops.Add) > 0:
			r.Status = domain.StateActive
		}
	}
	f.settle(r)
	return &domain.UpdateResult{HasChanges: true, UpdatedReminder: domain.ReminderToResponse(r)}, nil
}

func (f *fakeAPI) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reminders[id]
	if !ok {
		return nil, &reminders.APIError{Status: 404, Code: reminders.CodeNotFound}
	}
	r.Status = status
	f.settle(r)
	dto := domain.ReminderToResponse(r)
	return &domain.StatusResult{UpdatedReminder: &dto}, nil
}

func (f *fakeAPI) status(id uuid.UUID) domain.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reminders[id]; ok {
		return r.Status
	}
	return domain.StateRemoved
}

const (
	ownerID    int64 = 100
	strangerID int64 = 666
)

var testNow = time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

type fixture struct {
	bot     *Bot
	sender  *fakeSender
	api     *fakeAPI
	clock   *clock.Fixed
	ticker  *clock.Ticker
	storage *storage.Storage
	svc     *service.ReminderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := clock.NewFixed(testNow)
	st, err := storage.New(filepath.Join(t.TempDir(), "remindbot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		AllowedTelegramIDs: []int64{ownerID},
		Timezone:           time.UTC,
		Locale:             "en",
		APIUsername:        "admin",
		APIPassword:        "secret",
	}
	api := &fakeAPI{clock: c, reminders: map[uuid.UUID]*domain.Reminder{}}
	svc := service.NewReminderService(api, st, c, "UTC", nil)
	cal := service.NewCalendarService(st, nil, c, nil)
	ticker := clock.NewTicker(c, nil)
	sender := &fakeSender{}

	b := newBot(sender, cfg, st, svc, cal, ticker, nil)
	return &fixture{bot: b, sender: sender, api: api, clock: c, ticker: ticker, storage: st, svc: svc}
}

func (fx *fixture) message(from int64, text string) {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from, FirstName: "Alice", LanguageCode: "en"},
		Chat:      &tgbotapi.Chat{ID: from},
		Text:      text,
	}
	if len(text) > 0 && text[0] == '/' {
		end := len(text)
		for i, r := range text {
			if r == ' ' {
				end = i
				break
			}
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: end}}
	}
	fx.bot.handleUpdate(tgbotapi.Update{Message: msg})
}

func (fx *fixture) callback(from int64, data string) {
	fx.bot.handleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: from, FirstName: "Alice"},
		Message: &tgbotapi.Message{MessageID: 42, Chat: &tgbotapi.Chat{ID: from}},
		Data:    data,
	}})
}

func (fx *fixture) user(t *testing.T) *domain.User {
	t.Helper()
	u, err := fx.storage.GetUserByTelegramID(ownerID)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u
}

func dailyAt(hour int) rule.Rule {
	return rule.Complex{Date: rule.Daily{}, Time: rule.ExactTime{At: &rule.TimeOfDay{Hour: hour}}}
}
