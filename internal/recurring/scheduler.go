// Package recurring provides a periodic scheduler that fires due recurring
// definitions by creating tasks in the store.
package recurring

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/taskhold/internal/shared"
	"github.com/basket/taskhold/internal/store"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the recurring scheduler.
type Config struct {
	Engine   *store.Engine
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
	Now      func() time.Time
}

// Scheduler periodically scans the store for due recurring definitions
// and creates a task for each one.
type Scheduler struct {
	engine   *store.Engine
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		engine:   cfg.Engine,
		logger:   logger,
		interval: interval,
		now:      now,
	}
}

// Register validates the cron expression, stores the definition and stamps
// its first scheduled run.
func (s *Scheduler) Register(ctx context.Context, def store.RecurringDef) (*store.RecurringDef, error) {
	next, err := NextRunTime(def.CronExpr, s.now())
	if err != nil {
		return nil, &store.InvalidFieldValueError{Field: "cron_expr", Value: def.CronExpr}
	}
	def.Enabled = true
	stored, err := s.engine.AddRecurring(ctx, def)
	if err != nil {
		return nil, err
	}
	if err := s.engine.SetRecurringSchedule(stored.ID, next); err != nil {
		return nil, err
	}
	stored.NextRunAt = &next
	return stored, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("recurring scheduler started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("recurring scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediately on startup, then on each tick.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every enabled definition whose next run is due. Exported so
// the CLI can force a pass without waiting for the interval.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	for _, def := range s.engine.ListRecurring() {
		if !def.Enabled || def.NextRunAt == nil || def.NextRunAt.After(now) {
			continue
		}
		s.fire(ctx, def, now)
	}
}

// fire creates a task for the given definition and updates its run timestamps.
func (s *Scheduler) fire(ctx context.Context, def *store.RecurringDef, now time.Time) {
	ctx = shared.WithActor(ctx, "scheduler")
	task, err := s.engine.Create(ctx, store.CreateRequest{
		Title:    def.Title,
		Priority: def.Priority,
		Tags:     def.Tags,
	})
	if err != nil {
		s.logger.Error("recurring: failed to create task for definition",
			"recurring_id", def.ID,
			"recurring_name", def.Name,
			"error", err,
		)
		return
	}

	nextRun, err := NextRunTime(def.CronExpr, now)
	if err != nil {
		s.logger.Error("recurring: failed to compute next run time",
			"recurring_id", def.ID,
			"cron_expr", def.CronExpr,
			"error", err,
		)
		return
	}

	if err := s.engine.MarkRecurringRun(def.ID, now, nextRun); err != nil {
		s.logger.Error("recurring: failed to update definition run",
			"recurring_id", def.ID,
			"error", err,
		)
		return
	}

	s.logger.Info("recurring: definition fired",
		"recurring_id", def.ID,
		"recurring_name", def.Name,
		"task_id", task.ID,
		"next_run_at", nextRun,
	)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
