package assignment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule re-evaluates the queues twice a minute.
const DefaultSweepSchedule = "@every 30s"

// Sweeper periodically re-evaluates every waiting queue, catching
// conversations whose conversation.waiting event found no agent.
type Sweeper struct {
	logger   *slog.Logger
	engine   *Engine
	schedule string
}

func NewSweeper(logger *slog.Logger, engine *Engine, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule '%s': %w", schedule, err)
	}

	return &Sweeper{
		logger:   logger.With("module", "assignment_sweeper"),
		engine:   engine,
		schedule: schedule,
	}, nil
}

// Run schedules the sweep and blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := c.AddFunc(s.schedule, func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.logger.InfoContext(ctx, "Starting queue sweeper", "schedule", s.schedule)
	c.Start()

	<-ctx.Done()

	<-c.Stop().Done()
	s.logger.Info("Queue sweeper stopped")

	return nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	if err := s.engine.Sweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "Queue sweep failed", "error", err)
	}
}
