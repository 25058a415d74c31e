// Package schedule runs a job on a cron expression.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrNotStarted = errors.New("scheduler not started")

// Job is one scheduled execution.
type Job func(ctx context.Context) error

// Scheduler triggers a single job. A tick that fires while the previous
// execution is still running is skipped.
type Scheduler struct {
	expr     string
	schedule cron.Schedule
	job      Job
	logger   *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// New validates expr as a standard five-field expression or descriptor.
func New(expr string, job Job, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression '%s': %w", expr, err)
	}

	return &Scheduler{
		expr:     expr,
		schedule: schedule,
		job:      job,
		logger:   logger.With("module", "scheduler", "cron", expr),
	}, nil
}

// Next returns the next activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	adapter := cronLogger{logger: s.logger}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(adapter),
		cron.Recover(adapter),
	))

	entryID := c.Schedule(s.schedule, cron.FuncJob(func() { s.run(runCtx) }))

	c.Start()

	s.cron = c
	s.cancel = cancel

	s.logger.InfoContext(ctx, "Scheduler started", "entry_id", entryID, "next", s.schedule.Next(time.Now()))

	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	started := time.Now()
	s.logger.InfoContext(ctx, "Scheduled run started")

	if err := s.job(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Scheduled run failed", "error", err, "duration", time.Since(started))

		return
	}

	s.logger.InfoContext(ctx, "Scheduled run finished", "duration", time.Since(started))
}

// Stop prevents further ticks and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return ErrNotStarted
	}

	stopped := c.Stop()

	select {
	case <-stopped.Done():
		cancel()
		s.logger.InfoContext(ctx, "Scheduler stopped")

		return nil
	case <-ctx.Done():
		cancel()

		return ctx.Err()
	}
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
