package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tazhate/remindbot/config"
	"github.com/tazhate/remindbot/internal/bot"
	"github.com/tazhate/remindbot/internal/clients/caldav"
	"github.com/tazhate/remindbot/internal/clients/reminders"
	"github.com/tazhate/remindbot/internal/clock"
	"github.com/tazhate/remindbot/internal/scheduler"
	"github.com/tazhate/remindbot/internal/service"
	"github.com/tazhate/remindbot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("remindbot failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	clk := clock.System{}

	api := reminders.NewClient(cfg.RemindersAPIURL, cfg.RemindersAPIAuth,
		reminders.WithLogger(logger.Named("reminders")),
	)
	reminderSvc := service.NewReminderService(api, store, clk, cfg.Timezone.String(), logger.Named("service"))

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calendarStore service.CalendarStore
	if cfg.CalDAVEnabled() {
		dav, err := newCalDAV(ctx, cfg, logger)
		if err != nil {
			// Calendar push is optional; the bot runs without it
			logger.Error("caldav disabled", zap.Error(err))
		} else {
			calendarStore = dav
		}
	}
	calendarSvc := service.NewCalendarService(store, calendarStore, clk, logger.Named("calendar"))

	ticker := clock.NewTicker(clk, logger.Named("ticker"))
	ticker.Start()

	tgBot, err := bot.New(cfg, store, reminderSvc, calendarSvc, ticker, logger.Named("bot"))
	if err != nil {
		return fmt.Errorf("init bot: %w", err)
	}

	if cfg.WebhookURL != "" {
		if err := tgBot.SetupWebhook(); err != nil {
			return fmt.Errorf("setup webhook: %w", err)
		}
	}

	sched := scheduler.New(cfg.Timezone, reminderSvc, calendarSvc, cfg.SyncInterval, logger.Named("scheduler"))

	go func() {
		if err := sched.Start(ctx); err != nil {
			logger.Error("scheduler error", zap.Error(err))
		}
	}()

	go func() {
		if err := tgBot.Start(ctx); err != nil {
			logger.Error("bot error", zap.Error(err))
		}
	}()

	logger.Info("remindbot started",
		zap.String("api", cfg.RemindersAPIURL),
		zap.Bool("caldav", calendarSvc.IsConfigured()),
		zap.Bool("webhook", cfg.WebhookURL != ""),
	)

	// Wait for a shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := ticker.Stop(shutdownCtx); err != nil {
		logger.Warn("stop ticker", zap.Error(err))
	}
	if err := tgBot.Stop(shutdownCtx); err != nil {
		logger.Warn("stop bot", zap.Error(err))
	}

	logger.Info("remindbot stopped")
	return nil
}

// newCalDAV connects the calendar client. Without CALDAV_CALENDAR the first
// calendar that accepts events is used.
func newCalDAV(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*caldav.Client, error) {
	dav := caldav.NewClient(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword)
	if cfg.CalDAVCalendar != "" {
		dav.SetCalendarPath(cfg.CalDAVCalendar)
		return dav, nil
	}

	discoverCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cals, err := dav.DiscoverCalendars(discoverCtx)
	if err != nil {
		return nil, fmt.Errorf("discover calendars: %w", err)
	}
	for _, c := range cals {
		if c.SupportsEvents() {
			logger.Info("using calendar", zap.String("name", c.DisplayName), zap.String("path", c.Path))
			dav.SetCalendarPath(c.Path)
			return dav, nil
		}
	}
	return nil, fmt.Errorf("no calendar accepts events among %d found", len(cals))
}
