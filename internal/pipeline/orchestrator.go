package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Schedule holds the timings of the background loops.
type Schedule struct {
	CycleInterval  time.Duration
	ExpiryInterval time.Duration
	ArchiveCron    string
}

// Orchestrator manages the background goroutines: the price cycler, the
// withdrawal expirer and cold-storage archival. Nil components are skipped.
type Orchestrator struct {
	cycler   *PriceCycler
	expirer  *WithdrawalExpirer
	archiver *Archiver
	schedule Schedule
	logger   *slog.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(cycler *PriceCycler, expirer *WithdrawalExpirer, archiver *Archiver, schedule Schedule, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cycler:   cycler,
		expirer:  expirer,
		archiver: archiver,
		schedule: schedule,
		logger:   logger,
	}
}

// Run starts every configured loop in an errgroup. A loop returning a
// non-context error cancels the others and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("cycle_interval", o.schedule.CycleInterval),
		slog.Duration("expiry_interval", o.schedule.ExpiryInterval),
		slog.String("archive_cron", o.schedule.ArchiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.cycler != nil {
		g.Go(func() error {
			err := o.cycler.RunLoop(ctx, o.schedule.CycleInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("price cycler: %w", err)
		})
	}

	if o.expirer != nil {
		g.Go(func() error {
			err := o.expirer.RunLoop(ctx, o.schedule.ExpiryInterval)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("withdrawal expirer: %w", err)
		})
	}

	if o.archiver != nil && o.schedule.ArchiveCron != "" {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.schedule.ArchiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
