package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Windows yields the start of the next override window.
type Windows interface {
	NextWindow(at time.Time) time.Time
}

// Scheduler runs the batch at every window boundary.
type Scheduler struct {
	engine     *Engine
	windows    Windows
	runOnStart bool
	now        func() time.Time
	logger     *slog.Logger
}

func NewScheduler(engine *Engine, windows Windows, runOnStart bool, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:     engine,
		windows:    windows,
		runOnStart: runOnStart,
		now:        time.Now,
		logger:     logger.With("component", "scheduler"),
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.runOnStart {
		s.fire(ctx)
	}
	for {
		now := s.now()
		next := s.windows.NextWindow(now)
		wait := next.Sub(now)
		s.logger.Info("next batch scheduled", "at", next, "in", wait.Round(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.fire(ctx)
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	_, err := s.engine.RunBatch(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		s.logger.Warn("previous run still in progress, skipping")
	case err != nil && ctx.Err() == nil:
		s.logger.Error("scheduled batch failed", "err", err)
	}
}
