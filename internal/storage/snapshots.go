package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tazhate/remindbot/internal/domain"
)

// Snapshot is a cached copy of a reminder as the server last returned it.
type Snapshot struct {
	Reminder  *domain.Reminder
	FetchedAt time.Time
}

// === Reminder snapshots ===

func encodeReminder(r *domain.Reminder) (string, error) {
	data, err := json.Marshal(domain.ReminderToResponse(r))
	if err != nil {
		return "", fmt.Errorf("marshal reminder %s: %w", r.ID, err)
	}
	return string(data), nil
}

func decodeReminder(payload string) (*domain.Reminder, error) {
	var dto domain.ReminderResponse
	if err := json.Unmarshal([]byte(payload), &dto); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return domain.ReminderFromResponse(dto)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// ReplaceSnapshots stores one listing page for a user, replacing the
// previously cached list.
func (s *Storage) ReplaceSnapshots(userID int64, reminders []*domain.Reminder, fetchedAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM reminder_snapshots WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	for i, r := range reminders {
		payload, err := encodeReminder(r)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO reminder_snapshots (reminder_id, user_id, position, status, next_run_at, payload, fetched_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID.String(), userID, i, r.Status, nullTime(r.NextRunAt), payload, fetchedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert snapshot %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// SaveSnapshot upserts one reminder, keeping its list position.
func (s *Storage) SaveSnapshot(userID int64, r *domain.Reminder, fetchedAt time.Time) error {
	payload, err := encodeReminder(r)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO reminder_snapshots (reminder_id, user_id, position, status, next_run_at, payload, fetched_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM reminder_snapshots WHERE user_id = ?), ?, ?, ?, ?)
		 ON CONFLICT(reminder_id) DO UPDATE SET
			status = excluded.status,
			next_run_at = excluded.next_run_at,
			payload = excluded.payload,
			fetched_at = excluded.fetched_at`,
		r.ID.String(), userID, userID, r.Status, nullTime(r.NextRunAt), payload, fetchedAt.UTC(),
	)
	return err
}

func (s *Storage) DeleteSnapshot(id uuid.UUID) error {
	_, err := s.db.Exec(`DELETE FROM reminder_snapshots WHERE reminder_id = ?`, id.String())
	return err
}

// GetSnapshot returns nil when the reminder is not cached.
func (s *Storage) GetSnapshot(id uuid.UUID) (*Snapshot, error) {
	var payload string
	var fetchedAt time.Time
	err := s.db.QueryRow(
		`SELECT payload, fetched_at FROM reminder_snapshots WHERE reminder_id = ?`,
		id.String(),
	).Scan(&payload, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r, err := decodeReminder(payload)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Reminder: r, FetchedAt: fetchedAt}, nil
}

// ListSnapshots returns the cached list of a user in list order.
func (s *Storage) ListSnapshots(userID int64) ([]*Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT payload, fetched_at FROM reminder_snapshots WHERE user_id = ? ORDER BY position`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// ListDueSnapshots returns active snapshots whose cached next run is not
// after before. Their cached next run has passed and needs refreshing.
func (s *Storage) ListDueSnapshots(before time.Time) (map[int64][]*Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT user_id, payload, fetched_at FROM reminder_snapshots
		 WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		 ORDER BY user_id, next_run_at`,
		domain.StateActive, before.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	due := make(map[int64][]*Snapshot)
	for rows.Next() {
		var userID int64
		var payload string
		var fetchedAt time.Time
		if err := rows.Scan(&userID, &payload, &fetchedAt); err != nil {
			return nil, err
		}
		r, err := decodeReminder(payload)
		if err != nil {
			return nil, err
		}
		due[userID] = append(due[userID], &Snapshot{Reminder: r, FetchedAt: fetchedAt})
	}
	return due, rows.Err()
}

func scanSnapshots(rows *sql.Rows) ([]*Snapshot, error) {
	var out []*Snapshot
	for rows.Next() {
		var payload string
		var fetchedAt time.Time
		if err := rows.Scan(&payload, &fetchedAt); err != nil {
			return nil, err
		}
		r, err := decodeReminder(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, &Snapshot{Reminder: r, FetchedAt: fetchedAt})
	}
	return out, rows.Err()
}

// === Calendar sync ===

// SyncState is what was last pushed to the calendar for one object.
type SyncState struct {
	UID         string
	ReminderID  uuid.UUID
	UserID      int64
	ObjectPath  string
	ContentHash string
	SyncedAt    time.Time
}

const syncColumns = `object_uid, reminder_id, user_id, object_path, content_hash, synced_at`

func scanSyncState(row rowScanner) (*SyncState, error) {
	st := &SyncState{}
	var reminderID string
	if err := row.Scan(&st.UID, &reminderID, &st.UserID, &st.ObjectPath, &st.ContentHash, &st.SyncedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(reminderID)
	if err != nil {
		return nil, fmt.Errorf("parse reminder id %q: %w", reminderID, err)
	}
	st.ReminderID = id
	return st, nil
}

// GetSyncState returns nil when the object was never pushed.
func (s *Storage) GetSyncState(uid string) (*SyncState, error) {
	st, err := scanSyncState(s.db.QueryRow(`SELECT `+syncColumns+` FROM calendar_sync WHERE object_uid = ?`, uid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

func (s *Storage) SaveSyncState(st *SyncState) error {
	_, err := s.db.Exec(
		`INSERT INTO calendar_sync (`+syncColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(object_uid) DO UPDATE SET
			object_path = excluded.object_path,
			content_hash = excluded.content_hash,
			synced_at = excluded.synced_at`,
		st.UID, st.ReminderID.String(), st.UserID, st.ObjectPath, st.ContentHash, st.SyncedAt.UTC(),
	)
	return err
}

func (s *Storage) DeleteSyncState(uid string) error {
	_, err := s.db.Exec(`DELETE FROM calendar_sync WHERE object_uid = ?`, uid)
	return err
}

// ListSyncStates returns everything pushed for a user.
func (s *Storage) ListSyncStates(userID int64) ([]*SyncState, error) {
	rows, err := s.db.Query(`SELECT `+syncColumns+` FROM calendar_sync WHERE user_id = ? ORDER BY object_uid`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*SyncState
	for rows.Next() {
		st, err := scanSyncState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}
