package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tazhate/remindbot/internal/clients/reminders"
	"github.com/tazhate/remindbot/internal/clock"
	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/storage"
)

var (
	// ErrEditLocked is returned when editing a paused reminder.
	ErrEditLocked = errors.New("reminder is paused and cannot be edited")
	// ErrMutationInFlight is returned while another change to the same
	// reminder has not finished.
	ErrMutationInFlight = errors.New("another change to this reminder is in progress")
	// ErrNoChanges is returned for an edit that changes nothing.
	ErrNoChanges = errors.New("no changes")
)

// maxRefreshPages bounds a full refresh of one user's reminders.
const maxRefreshPages = 50

// RemindersAPI is the part of the reminders REST client the service uses.
type RemindersAPI interface {
	List(ctx context.Context, q domain.ListQuery) (*domain.PagedReminders, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.ReminderResponse, error)
	Create(ctx context.Context, req domain.CreateReminderRequest) (uuid.UUID, error)
	Update(ctx context.Context, id uuid.UUID, req domain.UpdateReminderRequest) (*domain.UpdateResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ChangeStatus(ctx context.Context, id uuid.UUID, status domain.State) (*domain.StatusResult, error)
}

// ReminderService validates changes before they reach the API and keeps a
// local snapshot of what the server last returned.
type ReminderService struct {
	api     RemindersAPI
	storage *storage.Storage
	clock   clock.Clock
	log     *zap.Logger

	defaultTZ string

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

func NewReminderService(api RemindersAPI, s *storage.Storage, c clock.Clock, defaultTZ string, log *zap.Logger) *ReminderService {
	if c == nil {
		c = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if defaultTZ == "" {
		defaultTZ = "UTC"
	}
	return &ReminderService{
		api:       api,
		storage:   s,
		clock:     c,
		log:       log,
		defaultTZ: defaultTZ,
		inFlight:  make(map[uuid.UUID]struct{}),
	}
}

// Now is the service clock's current time.
func (s *ReminderService) Now() time.Time {
	return s.clock.Now()
}

// TimeZone is the zone new reminders of u are created in.
func (s *ReminderService) TimeZone(u *domain.User) string {
	if u != nil && u.TimeZone != "" {
		return u.TimeZone
	}
	return s.defaultTZ
}

// Page is one page of reminders. Stale pages come from the local snapshot
// because the server could not be reached.
type Page struct {
	Reminders []*domain.Reminder
	Page      int
	HasNext   bool
	Stale     bool
	FetchedAt time.Time
}

// List returns one page of u's reminders in u's sort order.
func (s *ReminderService) List(ctx context.Context, u *domain.User, page int) (*Page, error) {
	q := domain.ListQuery{Page: page, Sort: u.Sort}.Normalized()
	resp, err := s.api.List(ctx, q)
	if err != nil {
		if reminders.IsRecoverable(err) {
			s.log.Warn("list reminders failed, using snapshot", zap.Int64("user_id", u.ID), zap.Error(err))
			return s.stalePage(u, q, err)
		}
		return nil, fmt.Errorf("list reminders: %w", err)
	}

	now := s.clock.Now()
	list, err := convertAll(resp.Reminders)
	if err != nil {
		return nil, err
	}
	if q.Page == 1 && !resp.HasNext {
		err = s.storage.ReplaceSnapshots(u.ID, list, now)
	} else {
		err = s.saveSnapshots(u.ID, list, now)
	}
	if err != nil {
		s.log.Warn("save snapshots", zap.Int64("user_id", u.ID), zap.Error(err))
	}
	return &Page{Reminders: list, Page: q.Page, HasNext: resp.HasNext, FetchedAt: now}, nil
}

func (s *ReminderService) stalePage(u *domain.User, q domain.ListQuery, cause error) (*Page, error) {
	snaps, err := s.storage.ListSnapshots(u.ID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("list reminders: %w", cause)
	}
	all := make([]*domain.Reminder, len(snaps))
	fetched := snaps[0].FetchedAt
	for i, sn := range snaps {
		all[i] = sn.Reminder
		if sn.FetchedAt.Before(fetched) {
			fetched = sn.FetchedAt
		}
	}
	SortReminders(all, q.Sort)

	start := (q.Page - 1) * q.PageSize
	if start > len(all) {
		start = len(all)
	}
	end := min(start+q.PageSize, len(all))
	return &Page{
		Reminders: all[start:end],
		Page:      q.Page,
		HasNext:   end < len(all),
		Stale:     true,
		FetchedAt: fetched,
	}, nil
}

// SortReminders orders reminders the way the server does for sort.
func SortReminders(list []*domain.Reminder, sort domain.SortSettings) {
	sort = sort.OrDefault()
	key := func(r *domain.Reminder) time.Time {
		if sort.SortBy == domain.SortByChangedAt {
			return r.UpdatedAt
		}
		return r.CreatedAt
	}
	slices.SortStableFunc(list, func(a, b *domain.Reminder) int {
		c := key(a).Compare(key(b))
		if sort.Order == domain.OrderDesc {
			c = -c
		}
		return c
	})
}

// Refresh pulls every reminder of u and replaces the local snapshot.
func (s *ReminderService) Refresh(ctx context.Context, u *domain.User) ([]*domain.Reminder, error) {
	q := domain.ListQuery{Sort: u.Sort}.Normalized()
	var all []*domain.Reminder
	for range maxRefreshPages {
		resp, err := s.api.List(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list reminders page %d: %w", q.Page, err)
		}
		list, err := convertAll(resp.Reminders)
		if err != nil {
			return nil, err
		}
		all = append(all, list...)
		if !resp.HasNext {
			break
		}
		q.Page++
	}
	if err := s.storage.ReplaceSnapshots(u.ID, all, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("replace snapshots: %w", err)
	}
	return all, nil
}

// Get fetches one reminder. When the server is unreachable the snapshot is
// returned with stale set.
func (s *ReminderService) Get(ctx context.Context, u *domain.User, id uuid.UUID) (r *domain.Reminder, stale bool, err error) {
	r, err = s.fetch(ctx, u, id)
	if err == nil {
		return r, false, nil
	}
	if !reminders.IsRecoverable(err) {
		return nil, false, err
	}
	snap, serr := s.storage.GetSnapshot(id)
	if serr != nil || snap == nil {
		return nil, false, err
	}
	s.log.Warn("get reminder failed, using snapshot", zap.String("reminder_id", id.String()), zap.Error(err))
	return snap.Reminder, true, nil
}

// fetch gets a reminder from the server and records it.
func (s *ReminderService) fetch(ctx context.Context, u *domain.User, id uuid.UUID) (*domain.Reminder, error) {
	resp, err := s.api.Get(ctx, id)
	if err != nil {
		if reminders.IsNotFound(err) {
			if derr := s.storage.DeleteSnapshot(id); derr != nil {
				s.log.Warn("delete snapshot", zap.Error(derr))
			}
		}
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	return s.record(u, *resp)
}

func (s *ReminderService) record(u *domain.User, resp domain.ReminderResponse) (*domain.Reminder, error) {
	r, err := domain.ReminderFromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("decode reminder %s: %w", resp.ID, err)
	}
	if err := s.storage.SaveSnapshot(u.ID, r, s.clock.Now()); err != nil {
		s.log.Warn("save snapshot", zap.String("reminder_id", r.ID.String()), zap.Error(err))
	}
	return r, nil
}

// Create validates and submits a new reminder. Without schedules the server
// creates a draft. An empty tz selects the user's zone.
func (s *ReminderService) Create(ctx context.Context, u *domain.User, text, tz string, schedules []domain.Schedule) (*domain.Reminder, error) {
	if tz == "" {
		tz = s.TimeZone(u)
	}
	if err := domain.ValidateCreate(text, tz, schedules, s.clock.Now()).Err(); err != nil {
		return nil, err
	}
	id, err := s.api.Create(ctx, domain.NewCreateRequest(text, tz, schedules))
	if err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	if id == uuid.Nil {
		return nil, fmt.Errorf("create reminder: %w", reminders.ErrMalformedResponse)
	}
	s.log.Info("reminder created", zap.Int64("user_id", u.ID), zap.String("reminder_id", id.String()))
	return s.fetch(ctx, u, id)
}

// Edit replaces the text and schedules of a reminder. edited is the full
// desired schedule list; schedules with an ID are kept ones. Expired
// schedules of an ended reminder are dropped first.
func (s *ReminderService) Edit(ctx context.Context, u *domain.User, id uuid.UUID, text string, edited []domain.Schedule) (*domain.Reminder, error) {
	release, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.fetch(ctx, u, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanEdit(current.Status) {
		return nil, ErrEditLocked
	}

	now := s.clock.Now()
	if current.Status == domain.StateEnded {
		edited = domain.FilterExpired(edited, current.TimeZone, now)
	}
	var added []domain.Schedule
	for _, sc := range edited {
		if sc.IsNew() {
			added = append(added, sc)
		}
	}
	kept := len(edited) - len(added)
	if err := domain.ValidateUpdate(text, current.TimeZone, edited, now).Err(); err != nil {
		return nil, err
	}
	if !domain.HasChanges(current, text, edited) {
		return nil, ErrNoChanges
	}
	if _, err := domain.StateAfterEdit(current.Status, kept, len(added)); err != nil {
		return nil, err
	}

	res, err := s.api.Update(ctx, id, domain.BuildUpdate(current, text, edited))
	if err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}
	if res == nil || res.UpdatedReminder.ID == uuid.Nil {
		return s.fetch(ctx, u, id)
	}
	return s.record(u, res.UpdatedReminder)
}

// Pause stops an active reminder.
func (s *ReminderService) Pause(ctx context.Context, u *domain.User, id uuid.UUID) (*domain.Reminder, error) {
	return s.changeStatus(ctx, u, id, domain.EventPause, domain.StatePaused)
}

// Activate resumes a paused reminder.
func (s *ReminderService) Activate(ctx context.Context, u *domain.User, id uuid.UUID) (*domain.Reminder, error) {
	return s.changeStatus(ctx, u, id, domain.EventActivate, domain.StateActive)
}

// ConvertToDraft turns an ended reminder back into a draft.
func (s *ReminderService) ConvertToDraft(ctx context.Context, u *domain.User, id uuid.UUID) (*domain.Reminder, error) {
	return s.changeStatus(ctx, u, id, domain.EventConvertToDraft, domain.StateDraft)
}

func (s *ReminderService) changeStatus(ctx context.Context, u *domain.User, id uuid.UUID, ev domain.Event, status domain.State) (*domain.Reminder, error) {
	release, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.fetch(ctx, u, id)
	if err != nil {
		return nil, err
	}
	if _, err := domain.Transition(current.Status, ev); err != nil {
		return nil, err
	}

	res, err := s.api.ChangeStatus(ctx, id, status)
	if err != nil {
		return nil, fmt.Errorf("change status to %s: %w", status, err)
	}
	s.log.Info("reminder status changed",
		zap.String("reminder_id", id.String()),
		zap.String("from", string(current.Status)),
		zap.String("to", string(status)),
	)
	if res == nil || res.Result() == nil {
		return s.fetch(ctx, u, id)
	}
	return s.record(u, *res.Result())
}

// Delete removes a reminder on the server and locally.
func (s *ReminderService) Delete(ctx context.Context, u *domain.User, id uuid.UUID) error {
	release, err := s.acquire(id)
	if err != nil {
		return err
	}
	defer release()

	if err := s.api.Delete(ctx, id); err != nil && !reminders.IsNotFound(err) {
		return fmt.Errorf("delete reminder: %w", err)
	}
	if err := s.storage.DeleteSnapshot(id); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	s.log.Info("reminder deleted", zap.Int64("user_id", u.ID), zap.String("reminder_id", id.String()))
	return nil
}

// Upcoming is a reminder with its next fire instant.
type Upcoming struct {
	Reminder *domain.Reminder
	At       time.Time
}

// Upcoming lists the next fires of u's active reminders from the snapshot,
// soonest first. The server's next run wins when it is still ahead; otherwise
// the schedules are projected locally.
func (s *ReminderService) Upcoming(u *domain.User, limit int) ([]Upcoming, error) {
	snaps, err := s.storage.ListSnapshots(u.ID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	now := s.clock.Now()
	var out []Upcoming
	for _, sn := range snaps {
		if at := NextRun(sn.Reminder, now); at != nil {
			out = append(out, Upcoming{Reminder: sn.Reminder, At: *at})
		}
	}
	slices.SortStableFunc(out, func(a, b Upcoming) int { return a.At.Compare(b.At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// NextRun is when r fires next as seen at now, or nil.
func NextRun(r *domain.Reminder, now time.Time) *time.Time {
	if r.Status != domain.StateActive {
		return nil
	}
	if r.NextRunAt != nil && !r.NextRunAt.Before(now) {
		t := *r.NextRunAt
		return &t
	}
	return r.ProjectedNextRun(now)
}

// RefreshDue refreshes every user with a snapshot whose next run has passed,
// so fired reminders pick up their new state.
func (s *ReminderService) RefreshDue(ctx context.Context) (int, error) {
	due, err := s.storage.ListDueSnapshots(s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("list due snapshots: %w", err)
	}
	var n int
	for userID := range due {
		u, err := s.storage.GetUserByID(userID)
		if err != nil || u == nil {
			continue
		}
		if _, err := s.Refresh(ctx, u); err != nil {
			s.log.Warn("refresh reminders", zap.Int64("user_id", userID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// RefreshAll refreshes every known user and returns how many succeeded.
func (s *ReminderService) RefreshAll(ctx context.Context) (int, error) {
	users, err := s.storage.ListUsers()
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	var n int
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := s.Refresh(ctx, u); err != nil {
			s.log.Warn("refresh reminders", zap.Int64("user_id", u.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

func (s *ReminderService) acquire(id uuid.UUID) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return nil, ErrMutationInFlight
	}
	s.inFlight[id] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inFlight, id)
		s.mu.Unlock()
	}, nil
}

func (s *ReminderService) saveSnapshots(userID int64, list []*domain.Reminder, at time.Time) error {
	for _, r := range list {
		if err := s.storage.SaveSnapshot(userID, r, at); err != nil {
			return err
		}
	}
	return nil
}

func convertAll(dtos []domain.ReminderResponse) ([]*domain.Reminder, error) {
	out := make([]*domain.Reminder, 0, len(dtos))
	for _, dto := range dtos {
		r, err := domain.ReminderFromResponse(dto)
		if err != nil {
			return nil, fmt.Errorf("decode reminder %s: %w", dto.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}
