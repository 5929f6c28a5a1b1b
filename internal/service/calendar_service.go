package service

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"go.uber.org/zap"

	"github.com/tazhate/remindbot/internal/calendar"
	"github.com/tazhate/remindbot/internal/clients/caldav"
	"github.com/tazhate/remindbot/internal/clock"
	"github.com/tazhate/remindbot/internal/domain"
	"github.com/tazhate/remindbot/internal/humanize"
	"github.com/tazhate/remindbot/internal/storage"
)

// CalendarStore is the CalDAV side of the sync.
type CalendarStore interface {
	IsConfigured() bool
	PutObject(ctx context.Context, uid string, cal *ical.Calendar) (string, error)
	DeleteObject(ctx context.Context, path string) error
}

var _ CalendarStore = (*caldav.Client)(nil)

// CalendarService mirrors reminder snapshots into a CalDAV calendar
type CalendarService struct {
	storage *storage.Storage
	store   CalendarStore
	clock   clock.Clock
	log     *zap.Logger
}

func NewCalendarService(s *storage.Storage, store CalendarStore, c clock.Clock, log *zap.Logger) *CalendarService {
	if c == nil {
		c = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CalendarService{storage: s, store: store, clock: c, log: log}
}

// IsConfigured returns true if CalDAV client is configured
func (s *CalendarService) IsConfigured() bool {
	return s.store != nil && s.store.IsConfigured()
}

// SyncResult contains sync operation results
type SyncResult struct {
	Added     int
	Updated   int
	Deleted   int
	Unchanged int
	Errors    []string
}

// Export builds a calendar of u's reminders from the local snapshot.
func (s *CalendarService) Export(u *domain.User) (*ical.Calendar, error) {
	list, err := s.snapshotReminders(u)
	if err != nil {
		return nil, err
	}
	return calendar.Export(list, humanize.LoadOrDefault(u.Locale), s.clock.Now()), nil
}

// SyncUser pushes changed calendar objects of u and removes objects whose
// reminder is gone or no longer exported.
func (s *CalendarService) SyncUser(ctx context.Context, u *domain.User) (*SyncResult, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("CalDAV not configured")
	}
	list, err := s.snapshotReminders(u)
	if err != nil {
		return nil, err
	}
	states, err := s.storage.ListSyncStates(u.ID)
	if err != nil {
		return nil, fmt.Errorf("list sync states: %w", err)
	}
	known := make(map[string]*storage.SyncState, len(states))
	for _, st := range states {
		known[st.UID] = st
	}

	result := &SyncResult{}
	seen := make(map[string]bool)
	now := s.clock.Now()
	t := humanize.LoadOrDefault(u.Locale)

	for _, r := range list {
		for _, obj := range calendar.Objects(r, t, now) {
			seen[obj.UID] = true
			hash, err := calendar.Hash(obj.Calendar)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("encode %s: %v", obj.UID, err))
				continue
			}
			prev := known[obj.UID]
			if prev != nil && prev.ContentHash == hash {
				result.Unchanged++
				continue
			}
			path, err := s.store.PutObject(ctx, obj.UID, obj.Calendar)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("put %s: %v", obj.UID, err))
				continue
			}
			st := &storage.SyncState{
				UID:         obj.UID,
				ReminderID:  obj.ReminderID,
				UserID:      u.ID,
				ObjectPath:  path,
				ContentHash: hash,
				SyncedAt:    now,
			}
			if err := s.storage.SaveSyncState(st); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("save %s: %v", obj.UID, err))
				continue
			}
			if prev == nil {
				result.Added++
			} else {
				result.Updated++
			}
		}
	}

	for uid, st := range known {
		if seen[uid] {
			continue
		}
		if err := s.store.DeleteObject(ctx, st.ObjectPath); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete %s: %v", uid, err))
			continue
		}
		if err := s.storage.DeleteSyncState(uid); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("forget %s: %v", uid, err))
			continue
		}
		result.Deleted++
	}

	s.log.Debug("calendar synced",
		zap.Int64("user_id", u.ID),
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("deleted", result.Deleted),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// SyncAll syncs every user. Per-user failures are logged and skipped.
func (s *CalendarService) SyncAll(ctx context.Context) (*SyncResult, error) {
	users, err := s.storage.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	total := &SyncResult{}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		r, err := s.SyncUser(ctx, u)
		if err != nil {
			s.log.Warn("calendar sync failed", zap.Int64("user_id", u.ID), zap.Error(err))
			continue
		}
		total.Added += r.Added
		total.Updated += r.Updated
		total.Deleted += r.Deleted
		total.Unchanged += r.Unchanged
		total.Errors = append(total.Errors, r.Errors...)
	}
	return total, nil
}

func (s *CalendarService) snapshotReminders(u *domain.User) ([]*domain.Reminder, error) {
	snaps, err := s.storage.ListSnapshots(u.ID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]*domain.Reminder, len(snaps))
	for i, sn := range snaps {
		out[i] = sn.Reminder
	}
	return out, nil
}

// LastSync is the latest sync time over u's objects, zero if never synced.
func (s *CalendarService) LastSync(u *domain.User) (time.Time, error) {
	states, err := s.storage.ListSyncStates(u.ID)
	if err != nil {
		return time.Time{}, err
	}
	var last time.Time
	for _, st := range states {
		if st.SyncedAt.After(last) {
			last = st.SyncedAt
		}
	}
	return last, nil
}
