// Package scheduler runs periodic maintenance tasks (dataset refresh, render
// cache warming) on a cron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is one unit of scheduled work. ctx is cancelled on Stop or after the
// scheduler's per-run timeout.
type Task func(ctx context.Context) error

// ErrIntervalTooShort is returned by Schedule for intervals under one second.
var ErrIntervalTooShort = errors.New("scheduler: interval must be at least 1s")

// Scheduler wraps a cron with per-run timeouts, panic recovery and
// skip-if-still-running semantics.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped Scheduler. timeout bounds each run; zero disables it.
func New(timeout time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{s: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule registers task to run every interval.
func (s *Scheduler) Schedule(name string, interval time.Duration, task Task) error {
	if interval < time.Second {
		return fmt.Errorf("schedule %s: %w", name, ErrIntervalTooShort)
	}
	spec := "@every " + interval.String()
	id, err := s.cron.AddFunc(spec, s.wrap(name, task))
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.logger.Info("task scheduled", zap.String("task", name), zap.String("spec", spec), zap.Int("entry", int(id)))
	return nil
}

// Entries returns the number of scheduled tasks.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start begins running scheduled tasks in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("tasks", s.Entries()))
}

// Stop cancels running tasks and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) wrap(name string, task Task) func() {
	return func() {
		start := time.Now()
		ctx := s.ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		if err := task(ctx); err != nil {
			s.logger.Warn("scheduled task failed", zap.String("task", name), zap.Error(err), zap.Duration("duration", time.Since(start)))
			return
		}
		s.logger.Debug("scheduled task complete", zap.String("task", name), zap.Duration("duration", time.Since(start)))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
