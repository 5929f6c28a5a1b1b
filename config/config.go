package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tazhate/remindbot/internal/humanize"
)

type Config struct {
	TelegramToken      string
	AllowedTelegramIDs []int64
	RemindersAPIURL    string
	RemindersAPIAuth   string
	DatabasePath       string
	Timezone           *time.Location
	Locale             string
	SyncInterval       time.Duration
	CalDAVURL          string
	CalDAVUsername     string
	CalDAVPassword     string
	CalDAVCalendar     string
	LogLevel           string
	WebhookURL         string
	ServerPort         string
	APIUsername        string
	APIPassword        string
}

func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	allowed, err := parseIDs(os.Getenv("ALLOWED_TELEGRAM_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid ALLOWED_TELEGRAM_IDS: %w", err)
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("ALLOWED_TELEGRAM_IDS is required")
	}

	apiURL := os.Getenv("REMINDERS_API_URL")
	if apiURL == "" {
		return nil, fmt.Errorf("REMINDERS_API_URL is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/remindbot.db"
	}

	tzName := os.Getenv("TIMEZONE")
	if tzName == "" {
		tzName = "UTC"
	}
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	locale := os.Getenv("LOCALE")
	if locale == "" {
		locale = humanize.DefaultLocale
	}
	if _, err := humanize.Load(locale); err != nil {
		return nil, fmt.Errorf("invalid LOCALE: %w", err)
	}

	syncInterval := 15 * time.Minute
	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		syncInterval, err = time.ParseDuration(v)
		if err != nil || syncInterval < time.Minute {
			return nil, fmt.Errorf("SYNC_INTERVAL must be a duration of at least 1m, got %q", v)
		}
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	return &Config{
		TelegramToken:      token,
		AllowedTelegramIDs: allowed,
		RemindersAPIURL:    strings.TrimRight(apiURL, "/"),
		RemindersAPIAuth:   os.Getenv("REMINDERS_API_AUTH"),
		DatabasePath:       dbPath,
		Timezone:           tz,
		Locale:             locale,
		SyncInterval:       syncInterval,
		CalDAVURL:          os.Getenv("CALDAV_URL"),
		CalDAVUsername:     os.Getenv("CALDAV_USERNAME"),
		CalDAVPassword:     os.Getenv("CALDAV_PASSWORD"),
		CalDAVCalendar:     os.Getenv("CALDAV_CALENDAR"),
		LogLevel:           logLevel,
		WebhookURL:         os.Getenv("WEBHOOK_URL"),
		ServerPort:         serverPort,
		APIUsername:        os.Getenv("API_USERNAME"),
		APIPassword:        os.Getenv("API_PASSWORD"),
	}, nil
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Config) IsAllowedUser(telegramID int64) bool {
	for _, id := range c.AllowedTelegramIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

// CalDAVEnabled reports whether calendar push is configured.
func (c *Config) CalDAVEnabled() bool {
	return c.CalDAVUsername != "" && c.CalDAVPassword != ""
}

// NewLogger builds the process logger: development output for debug,
// production JSON otherwise.
func NewLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "debug") {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg.Level = lvl
	return cfg.Build()
}
