package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// FastInterval is used while any registered next run is close.
	FastInterval = 5 * time.Second
	// SlowInterval is used otherwise.
	SlowInterval = 60 * time.Second
	// FastThreshold is how close a next run must be to switch to FastInterval.
	FastThreshold = 60 * time.Second
)

// Ticker is one shared, adaptive timer. Subscribers receive the current time
// on every tick; the tick interval shrinks while a subscriber's next run is
// near. Ticks are suspended while the ticker is not visible.
type Ticker struct {
	clock Clock
	log   *zap.Logger
	cron  *cron.Cron

	// soonest is the earliest registered next run in Unix nanoseconds, 0 when
	// none. cron reads it from its own goroutine without taking mu.
	soonest atomic.Int64

	mu      sync.Mutex
	subs    map[uint64]*subscription
	nextID  uint64
	visible bool
	entry   cron.EntryID
	running bool
}

type subscription struct {
	nextRunAt *time.Time
	fn        func(now time.Time)
}

// adaptiveSchedule lets cron ask the ticker for its interval after every run.
type adaptiveSchedule struct {
	t *Ticker
}

func (s adaptiveSchedule) Next(prev time.Time) time.Time {
	return prev.Add(s.t.Interval())
}

// NewTicker builds a stopped, visible ticker.
func NewTicker(c Clock, log *zap.Logger) *Ticker {
	if c == nil {
		c = System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ticker{
		clock:   c,
		log:     log,
		cron:    cron.New(),
		subs:    make(map[uint64]*subscription),
		visible: true,
	}
}

// Subscribe registers fn for ticks. nextRunAt, when set, takes part in the
// interval choice. The returned func unsubscribes; calling it twice is safe.
func (t *Ticker) Subscribe(nextRunAt *time.Time, fn func(now time.Time)) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	var next *time.Time
	if nextRunAt != nil {
		v := *nextRunAt
		next = &v
	}
	t.subs[id] = &subscription{nextRunAt: next, fn: fn}
	t.updateSoonestLocked()
	t.rescheduleLocked()
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.updateSoonestLocked()
			t.rescheduleLocked()
			t.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (t *Ticker) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Interval is the current tick period.
func (t *Ticker) Interval() time.Duration {
	soonest := t.soonest.Load()
	if soonest == 0 {
		return SlowInterval
	}
	if time.Unix(0, soonest).Sub(t.clock.Now()) <= FastThreshold {
		return FastInterval
	}
	return SlowInterval
}

func (t *Ticker) updateSoonestLocked() {
	var soonest int64
	for _, s := range t.subs {
		if s.nextRunAt == nil {
			continue
		}
		if n := s.nextRunAt.UnixNano(); soonest == 0 || n < soonest {
			soonest = n
		}
	}
	t.soonest.Store(soonest)
}

// SetVisible suspends or resumes ticks. Becoming visible ticks immediately.
func (t *Ticker) SetVisible(visible bool) {
	t.mu.Lock()
	was := t.visible
	t.visible = visible
	if visible && !was {
		t.rescheduleLocked()
	}
	t.mu.Unlock()

	if visible && !was {
		t.notify()
	}
}

// Start begins ticking in the background.
func (t *Ticker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.rescheduleLocked()
	t.cron.Start()
	t.log.Debug("ticker started", zap.Duration("interval", t.Interval()))
}

// Stop halts the ticker and waits for a tick in progress, or for ctx.
func (t *Ticker) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.mu.Unlock()

	done := t.cron.Stop()
	select {
	case <-done.Done():
		t.log.Debug("ticker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rescheduleLocked replaces the cron entry so an interval change takes effect
// now instead of after the pending tick.
func (t *Ticker) rescheduleLocked() {
	if !t.running {
		return
	}
	if t.entry != 0 {
		t.cron.Remove(t.entry)
	}
	t.entry = t.cron.Schedule(adaptiveSchedule{t: t}, cron.FuncJob(t.tick))
}

func (t *Ticker) tick() {
	t.mu.Lock()
	visible := t.visible
	t.mu.Unlock()
	if visible {
		t.notify()
	}
}

func (t *Ticker) notify() {
	now := t.clock.Now()

	t.mu.Lock()
	fns := make([]func(time.Time), 0, len(t.subs))
	for _, s := range t.subs {
		fns = append(fns, s.fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(now)
	}
}
