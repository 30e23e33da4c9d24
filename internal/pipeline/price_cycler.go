package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/caseledger/internal/service"
)

// CycleRunner runs one valuation cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (service.CycleReport, error)
}

// PriceCycler runs valuation cycles on a ticker and on demand.
type PriceCycler struct {
	runner    CycleRunner
	trigger   chan struct{}
	onFailure func(ctx context.Context, failedSources []string, err error)
	logger    *slog.Logger
}

// NewPriceCycler creates a PriceCycler.
func NewPriceCycler(runner CycleRunner, logger *slog.Logger) *PriceCycler {
	return &PriceCycler{
		runner:  runner,
		trigger: make(chan struct{}, 1),
		logger:  logger,
	}
}

// OnFailure registers fn to be called after every failed cycle.
func (p *PriceCycler) OnFailure(fn func(ctx context.Context, failedSources []string, err error)) *PriceCycler {
	p.onFailure = fn
	return p
}

// Trigger asks the loop to run a cycle as soon as possible. It never blocks;
// triggers arriving while one is already queued are coalesced. It reports
// whether a new trigger was queued.
func (p *PriceCycler) Trigger() bool {
	select {
	case p.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunLoop runs a cycle immediately, then on every tick and trigger until ctx
// is cancelled. Cycle errors are logged; the loop keeps going.
func (p *PriceCycler) RunLoop(ctx context.Context, interval time.Duration) error {
	p.runOnce(ctx, "startup")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("price cycler stopped")
			return ctx.Err()
		case <-ticker.C:
			p.runOnce(ctx, "tick")
		case <-p.trigger:
			p.runOnce(ctx, "trigger")
		}
	}
}

func (p *PriceCycler) runOnce(ctx context.Context, reason string) {
	report, err := p.runner.RunCycle(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.ErrorContext(ctx, "price cycle failed",
			slog.String("reason", reason),
			slog.Any("failed_sources", report.FailedSources),
			slog.String("error", err.Error()),
		)
		if p.onFailure != nil {
			p.onFailure(ctx, report.FailedSources, err)
		}
		return
	}
	if report.Skipped {
		p.logger.DebugContext(ctx, "price cycle skipped", slog.String("reason", reason))
	}
}
