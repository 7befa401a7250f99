package prize

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const (
	DefaultPurgeInterval    = time.Minute
	DefaultReminderInterval = 5 * time.Minute
)

// Janitor purges expired batches and reminds online owners on a schedule.
type Janitor struct {
	ledger    *Ledger
	purge     time.Duration
	remind    time.Duration
	logger    *slog.Logger
	scheduler gocron.Scheduler
	running   atomic.Bool
}

// NewJanitor creates a janitor. Zero intervals take the defaults.
func NewJanitor(ledger *Ledger, purge, remind time.Duration, logger *slog.Logger) *Janitor {
	if purge <= 0 {
		purge = DefaultPurgeInterval
	}
	if remind <= 0 {
		remind = DefaultReminderInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{ledger: ledger, purge: purge, remind: remind, logger: logger}
}

// Running reports whether the scheduler is active.
func (j *Janitor) Running() bool {
	return j.running.Load()
}

// Start registers both jobs and starts the scheduler.
func (j *Janitor) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if _, err := s.NewJob(
		gocron.DurationJob(j.purge),
		gocron.NewTask(func() { j.safeRun(ctx, "purge", j.runPurge) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule purge: %w", err)
	}
	if _, err := s.NewJob(
		gocron.DurationJob(j.remind),
		gocron.NewTask(func() { j.safeRun(ctx, "remind", j.runRemind) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule reminders: %w", err)
	}
	s.Start()
	j.scheduler = s
	j.running.Store(true)
	return nil
}

// Stop shuts the scheduler down and waits for running jobs.
func (j *Janitor) Stop() {
	if !j.running.CompareAndSwap(true, false) {
		return
	}
	if err := j.scheduler.Shutdown(); err != nil {
		j.logger.Warn("prize janitor shutdown", "error", err)
	}
}

func (j *Janitor) safeRun(ctx context.Context, job string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("panic in prize janitor", "job", job, "panic", fmt.Sprint(r))
		}
	}()
	fn(ctx)
}

func (j *Janitor) runPurge(ctx context.Context) {
	if _, err := j.ledger.PurgeExpired(ctx); err != nil {
		j.logger.Warn("failed to purge expired prizes", "error", err)
	}
}

func (j *Janitor) runRemind(ctx context.Context) {
	n, err := j.ledger.RemindUnclaimed(ctx)
	if err != nil {
		j.logger.Warn("failed to send prize reminders", "error", err)
		return
	}
	if n > 0 {
		j.logger.Debug("prize reminders sent", "players", n)
	}
}
