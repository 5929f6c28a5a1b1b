package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tazhate/remindbot/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_id INTEGER UNIQUE NOT NULL,
			name TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// Preferences
		`ALTER TABLE users ADD COLUMN time_zone TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE users ADD COLUMN locale TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE users ADD COLUMN sort_by TEXT NOT NULL DEFAULT 'CREATED_AT'`,
		`ALTER TABLE users ADD COLUMN sort_order TEXT NOT NULL DEFAULT 'DESC'`,
		// Last known server state of each reminder, in wire format
		`CREATE TABLE IF NOT EXISTS reminder_snapshots (
			reminder_id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			next_run_at DATETIME,
			payload TEXT NOT NULL,
			fetched_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_user ON reminder_snapshots(user_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_next_run ON reminder_snapshots(next_run_at)`,
		// What was last pushed to CalDAV per calendar object
		`CREATE TABLE IF NOT EXISTS calendar_sync (
			object_uid TEXT PRIMARY KEY,
			reminder_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			object_path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			synced_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_sync_user ON calendar_sync(user_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("exec migration: %w", err)
			}
		}
	}
	return nil
}

// === Users ===

const userColumns = `id, telegram_id, name, time_zone, locale, sort_by, sort_order, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	u := &domain.User{}
	var sortBy, order string
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Name, &u.TimeZone, &u.Locale, &sortBy, &order, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Sort = domain.SortSettings{SortBy: domain.SortBy(sortBy), Order: domain.SortOrder(order)}.OrDefault()
	return u, nil
}

func (s *Storage) CreateUser(u *domain.User) error {
	sort := u.Sort.OrDefault()
	res, err := s.db.Exec(
		`INSERT INTO users (telegram_id, name, time_zone, locale, sort_by, sort_order) VALUES (?, ?, ?, ?, ?, ?)`,
		u.TelegramID, u.Name, u.TimeZone, u.Locale, sort.SortBy, sort.Order,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	u.ID = id
	u.Sort = sort
	u.CreatedAt = time.Now()
	return nil
}

func (s *Storage) GetUserByTelegramID(telegramID int64) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Storage) GetUserByID(id int64) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// ListUsers returns all users
func (s *Storage) ListUsers() ([]*domain.User, error) {
	rows, err := s.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserTimeZone sets the zone used for new reminders.
func (s *Storage) UpdateUserTimeZone(userID int64, tz string) error {
	_, err := s.db.Exec(`UPDATE users SET time_zone = ? WHERE id = ?`, tz, userID)
	return err
}

func (s *Storage) UpdateUserLocale(userID int64, locale string) error {
	_, err := s.db.Exec(`UPDATE users SET locale = ? WHERE id = ?`, locale, userID)
	return err
}

// UpdateUserSort stores the list order. Invalid settings are rejected.
func (s *Storage) UpdateUserSort(userID int64, sort domain.SortSettings) error {
	if err := sort.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE users SET sort_by = ?, sort_order = ? WHERE id = ?`, sort.SortBy, sort.Order, userID)
	return err
}
