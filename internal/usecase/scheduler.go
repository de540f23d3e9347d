package usecase

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"TournamentScanner/internal/domain"
	"TournamentScanner/internal/ports"
)

// Scheduler wires the cron-like driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	pages    func(reference time.Time) iter.Seq[domain.PageKey]
	location *time.Location
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs. pages computes
// the page sequence for the run triggered at the given reference time.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, pages func(time.Time) iter.Seq[domain.PageKey], loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{driver: driver, pipeline: pipeline, pages: pages, location: loc, logger: logger}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil || s.pages == nil {
		return nil
	}
	return s.driver.Start(ctx, func(trigger time.Time) { s.runOnce(ctx, trigger) })
}

func (s *Scheduler) runOnce(ctx context.Context, trigger time.Time) {
	reference := trigger.In(s.location)
	if _, err := s.pipeline.Run(ctx, s.pages(reference), reference); err != nil {
		s.logger.Error("scheduled run failed", "trigger", trigger, "error", err)
	}
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
