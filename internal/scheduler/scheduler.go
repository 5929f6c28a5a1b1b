package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tazhate/remindbot/internal/service"
)

// Refresher keeps the local reminder snapshots current.
type Refresher interface {
	RefreshDue(ctx context.Context) (int, error)
	RefreshAll(ctx context.Context) (int, error)
}

// Syncer pushes reminders to an external calendar.
type Syncer interface {
	IsConfigured() bool
	SyncAll(ctx context.Context) (*service.SyncResult, error)
}

type Scheduler struct {
	cron         *cron.Cron
	log          *zap.Logger
	refresher    Refresher
	syncer       Syncer
	syncInterval time.Duration

	ctx context.Context
}

func New(loc *time.Location, refresher Refresher, syncer Syncer, syncInterval time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{log.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	return &Scheduler{
		cron:         c,
		log:          log,
		refresher:    refresher,
		syncer:       syncer,
		syncInterval: syncInterval,
		ctx:          context.Background(),
	}
}

// Start registers the jobs and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx

	// Pick up reminders whose next run has passed
	if _, err := s.cron.AddFunc("* * * * *", s.refreshDue); err != nil {
		return fmt.Errorf("add due refresh: %w", err)
	}

	// Full refresh catches changes made from other clients
	if _, err := s.cron.AddFunc("@hourly", s.refreshAll); err != nil {
		return fmt.Errorf("add full refresh: %w", err)
	}

	if s.syncer != nil && s.syncer.IsConfigured() && s.syncInterval > 0 {
		spec := fmt.Sprintf("@every %s", s.syncInterval)
		if _, err := s.cron.AddFunc(spec, s.syncCalendar); err != nil {
			return fmt.Errorf("add calendar sync: %w", err)
		}
	}

	s.cron.Start()
	s.log.Info("scheduler started",
		zap.Int("jobs", len(s.cron.Entries())),
		zap.Duration("sync_interval", s.syncInterval),
	)

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) refreshDue() {
	n, err := s.refresher.RefreshDue(s.ctx)
	if err != nil {
		s.log.Error("refresh due reminders", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Debug("refreshed users with due reminders", zap.Int("users", n))
	}
}

func (s *Scheduler) refreshAll() {
	n, err := s.refresher.RefreshAll(s.ctx)
	if err != nil {
		s.log.Error("refresh reminders", zap.Error(err))
		return
	}
	s.log.Debug("refreshed all users", zap.Int("users", n))
}

func (s *Scheduler) syncCalendar() {
	res, err := s.syncer.SyncAll(s.ctx)
	if err != nil {
		s.log.Error("calendar sync", zap.Error(err))
		return
	}
	for _, e := range res.Errors {
		s.log.Warn("calendar sync object failed", zap.String("error", e))
	}
	s.log.Info("calendar synced",
		zap.Int("added", res.Added),
		zap.Int("updated", res.Updated),
		zap.Int("deleted", res.Deleted),
	)
}

// cronLogger routes cron's own logging to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
