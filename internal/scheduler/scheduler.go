package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"house_hunter/internal/domain"
)

// Runner performs one pipeline run.
type Runner interface {
	Run(ctx context.Context) (*domain.RunReport, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) (*domain.RunReport, error)

func (f RunnerFunc) Run(ctx context.Context) (*domain.RunReport, error) {
	return f(ctx)
}

type Scheduler struct {
	runner   Runner
	schedule cron.Schedule
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a scheduler. A non-positive interval means a single
// run; a non-positive timeout leaves runs unbounded.
func NewScheduler(runner Runner, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "scheduler"),
	}
}

// NewCronScheduler runs at the times named by a standard cron expression
// ("0 7 * * *", "CRON_TZ=Europe/Amsterdam 0 7,19 * * *", "@every 6h").
func NewCronScheduler(runner Runner, expr string, timeout time.Duration, logger *slog.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		timeout:  timeout,
		logger:   logger.With("component", "scheduler"),
	}, nil
}

// Start runs until ctx is done. Interval mode runs immediately and then once
// per interval; cron mode waits for the first scheduled time. In single-run
// mode the run's error is returned. Runs never overlap.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.schedule != nil {
		return s.startCron(ctx)
	}
	if s.interval <= 0 {
		return s.runOnce(ctx)
	}

	s.logger.Info("scheduler started", "interval", s.interval)

	_ = s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			_ = s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) startCron(ctx context.Context) error {
	for {
		next := s.schedule.Next(time.Now())
		s.logger.Info("next run scheduled", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			_ = s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	report, err := s.runner.Run(runCtx)
	if err != nil {
		s.logger.Error("run failed", "error", err)
		return err
	}
	if report != nil && report.Interrupted {
		s.logger.Warn("run interrupted", "run_id", report.RunID)
	}
	return nil
}
