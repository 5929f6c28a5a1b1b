package bot

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tazhate/remindbot/internal/calendar"
	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/service"
)

// API Response types
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type UserResponse struct {
	TelegramID int64  `json:"telegram_id"`
	Name       string `json:"name"`
	TimeZone   string `json:"time_zone"`
	Locale     string `json:"locale"`
	SortBy     string `json:"sort_by"`
	Order      string `json:"order"`
}

type SnapshotResponse struct {
	Reminder  domain.ReminderResponse `json:"reminder"`
	NextRun   *string                 `json:"next_run,omitempty"`
	FetchedAt string                  `json:"fetched_at"`
}

type UpcomingResponse struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	At   string `json:"at"`
}

type SyncResponse struct {
	Added     int      `json:"added"`
	Updated   int      `json:"updated"`
	Deleted   int      `json:"deleted"`
	Unchanged int      `json:"unchanged"`
	Errors    []string `json:"errors,omitempty"`
}

// SetupAPI registers the health check and, when credentials are configured,
// the read-only API behind Basic Auth.
func (b *Bot) SetupAPI() {
	b.mux.HandleFunc("GET /health", b.apiHealth)

	if b.cfg.APIUsername == "" || b.cfg.APIPassword == "" {
		return // API disabled if no credentials
	}

	b.mux.HandleFunc("GET /api/users", b.basicAuth(b.apiUsers))
	b.mux.HandleFunc("GET /api/users/{telegramID}/reminders", b.basicAuth(b.apiReminders))
	b.mux.HandleFunc("GET /api/users/{telegramID}/upcoming", b.basicAuth(b.apiUpcoming))
	b.mux.HandleFunc("GET /api/users/{telegramID}/calendar.ics", b.basicAuth(b.apiCalendarFile))
	b.mux.HandleFunc("POST /api/calendar/sync", b.basicAuth(b.apiCalendarSync))
}

// Handler exposes the HTTP routes, for tests and embedding.
func (b *Bot) Handler() http.Handler {
	return b.mux
}

// basicAuth middleware
func (b *Bot) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(username), []byte(b.cfg.APIUsername)) != 1 ||
			subtle.ConstantTimeCompare([]byte(password), []byte(b.cfg.APIPassword)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="remindbot API"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (b *Bot) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data}); err != nil {
		b.log.Debug("write api response", zap.Error(err))
	}
}

func (b *Bot) jsonError(w http.ResponseWriter, err string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err})
}

func (b *Bot) apiHealth(w http.ResponseWriter, r *http.Request) {
	b.jsonResponse(w, map[string]string{"status": "ok"})
}

// pathUser resolves the {telegramID} path segment.
func (b *Bot) pathUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	telegramID, err := strconv.ParseInt(r.PathValue("telegramID"), 10, 64)
	if err != nil {
		b.jsonError(w, "Invalid telegram id", http.StatusBadRequest)
		return nil, false
	}
	user, err := b.storage.GetUserByTelegramID(telegramID)
	if err != nil {
		b.log.Error("api: load user", zap.Int64("telegram_id", telegramID), zap.Error(err))
		b.jsonError(w, "Internal error", http.StatusInternalServerError)
		return nil, false
	}
	if user == nil {
		b.jsonError(w, "User not found", http.StatusNotFound)
		return nil, false
	}
	return user, true
}

// GET /api/users - registered users and their preferences
func (b *Bot) apiUsers(w http.ResponseWriter, r *http.Request) {
	users, err := b.storage.ListUsers()
	if err != nil {
		b.log.Error("api: list users", zap.Error(err))
		b.jsonError(w, "Internal error", http.StatusInternalServerError)
		return
	}
	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, UserResponse{
			TelegramID: u.TelegramID,
			Name:       u.Name,
			TimeZone:   u.TimeZone,
			Locale:     u.Locale,
			SortBy:     string(u.Sort.SortBy),
			Order:      string(u.Sort.Order),
		})
	}
	b.jsonResponse(w, resp)
}

// GET /api/users/{telegramID}/reminders - the cached reminder snapshot
func (b *Bot) apiReminders(w http.ResponseWriter, r *http.Request) {
	user, ok := b.pathUser(w, r)
	if !ok {
		return
	}
	snaps, err := b.storage.ListSnapshots(user.ID)
	if err != nil {
		b.log.Error("api: list snapshots", zap.Int64("user_id", user.ID), zap.Error(err))
		b.jsonError(w, "Internal error", http.StatusInternalServerError)
		return
	}

	now := b.reminders.Now()
	list := make([]*domain.Reminder, len(snaps))
	fetched := make(map[*domain.Reminder]time.Time, len(snaps))
	for i, sn := range snaps {
		list[i] = sn.Reminder
		fetched[sn.Reminder] = sn.FetchedAt
	}
	service.SortReminders(list, user.Sort)

	resp := make([]SnapshotResponse, 0, len(list))
	for _, rem := range list {
		item := SnapshotResponse{
			Reminder:  domain.ReminderToResponse(rem),
			FetchedAt: fetched[rem].UTC().Format(time.RFC3339),
		}
		if next := service.NextRun(rem, now); next != nil {
			s := next.UTC().Format(time.RFC3339)
			item.NextRun = &s
		}
		resp = append(resp, item)
	}
	b.jsonResponse(w, resp)
}

// GET /api/users/{telegramID}/upcoming - next fires, soonest first
func (b *Bot) apiUpcoming(w http.ResponseWriter, r *http.Request) {
	user, ok := b.pathUser(w, r)
	if !ok {
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			b.jsonError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	list, err := b.reminders.Upcoming(user, limit)
	if err != nil {
		b.log.Error("api: upcoming", zap.Int64("user_id", user.ID), zap.Error(err))
		b.jsonError(w, "Internal error", http.StatusInternalServerError)
		return
	}
	resp := make([]UpcomingResponse, 0, len(list))
	for _, u := range list {
		resp = append(resp, UpcomingResponse{
			ID:   u.Reminder.ID.String(),
			Text: u.Reminder.Text,
			At:   u.At.In(u.Reminder.Location()).Format(time.RFC3339),
		})
	}
	b.jsonResponse(w, resp)
}

// GET /api/users/{telegramID}/calendar.ics - subscribable calendar feed
func (b *Bot) apiCalendarFile(w http.ResponseWriter, r *http.Request) {
	user, ok := b.pathUser(w, r)
	if !ok {
		return
	}
	cal, err := b.calendar.Export(user)
	if err != nil {
		b.log.Error("api: export calendar", zap.Int64("user_id", user.ID), zap.Error(err))
		b.jsonError(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	if err := calendar.Encode(w, cal); err != nil {
		b.log.Warn("api: write calendar", zap.Int64("user_id", user.ID), zap.Error(err))
	}
}

// POST /api/calendar/sync - push every user's reminders to CalDAV now
func (b *Bot) apiCalendarSync(w http.ResponseWriter, r *http.Request) {
	if b.calendar == nil || !b.calendar.IsConfigured() {
		b.jsonError(w, "Calendar not configured", http.StatusServiceUnavailable)
		return
	}

	res, err := b.calendar.SyncAll(r.Context())
	if err != nil {
		b.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	b.jsonResponse(w, SyncResponse{
		Added:     res.Added,
		Updated:   res.Updated,
		Deleted:   res.Deleted,
		Unchanged: res.Unchanged,
		Errors:    res.Errors,
	})
}
