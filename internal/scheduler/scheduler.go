// Package scheduler runs the nightly automation pass on a ticker.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"caseflow/internal/engine"
)

// Runner is the part of the engine the scheduler drives.
type Runner interface {
	RunAutomationPass(ctx context.Context) (engine.Report, error)
}

type Scheduler struct {
	Runner   Runner
	Interval time.Duration
	// RunOnStart runs one pass before the first tick.
	RunOnStart bool
	Log        *slog.Logger
	// OnPass, when set, observes every finished pass.
	OnPass func(engine.Report, error)
}

// Run blocks until ctx is done. A failed pass is logged and retried on the
// next tick.
func (s Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("scheduler started", "interval", interval.String())
	if s.RunOnStart {
		s.runOnce(ctx, log)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx, log)
		}
	}
}

func (s Scheduler) runOnce(ctx context.Context, log *slog.Logger) {
	report, err := s.Runner.RunAutomationPass(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("scheduled automation pass failed", "error", err)
		}
	} else {
		log.Info("scheduled automation pass", "tasks_created", report.TasksCreated, "errors", report.Errors)
	}
	if s.OnPass != nil {
		s.OnPass(report, err)
	}
}
