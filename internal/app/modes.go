package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/caseledger/internal/pipeline"
	"github.com/alanyoungcy/caseledger/internal/server"
	"github.com/alanyoungcy/caseledger/internal/server/handler"
	"github.com/alanyoungcy/caseledger/internal/server/ws"
)

// ServerMode runs only the HTTP API and WebSocket relay. Cycles triggered
// over the operator API are unavailable; the ingest instance owns them.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

// IngestMode runs only the background pipeline: price cycles, withdrawal
// expiry and quote archival.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	orch, _ := a.buildPipeline(deps)
	g.Go(func() error { return orch.Run(ctx) })
	return g.Wait()
}

// FullMode runs the pipeline and the API in one process. The operator
// trigger route drives the in-process price cycler.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	orch, cycler := a.buildPipeline(deps)
	g.Go(func() error { return orch.Run(ctx) })
	a.startHTTPServer(ctx, g, deps, cycler)
	return g.Wait()
}

// buildPipeline assembles the orchestrator. The archiver is only scheduled
// when blob storage is wired.
func (a *App) buildPipeline(deps *Dependencies) (*pipeline.Orchestrator, *pipeline.PriceCycler) {
	cycler := pipeline.NewPriceCycler(deps.Valuations, a.logger).OnFailure(deps.Notifier.CycleFailed)
	expirer := pipeline.NewWithdrawalExpirer(
		deps.Withdrawals,
		a.cfg.Wallet.PendingTTL.Duration,
		a.cfg.Wallet.ExpiryBatch,
		a.logger,
	)

	var archiver *pipeline.Archiver
	if deps.QuoteArchiver != nil {
		archiver = pipeline.NewArchiver(deps.QuoteArchiver, a.cfg.Archive.RetentionDays, a.logger)
	}

	orch := pipeline.NewOrchestrator(cycler, expirer, archiver, pipeline.Schedule{
		CycleInterval:  a.cfg.Ingest.Interval.Duration,
		ExpiryInterval: a.cfg.Wallet.ExpiryEvery.Duration,
		ArchiveCron:    a.cfg.Archive.Cron,
	}, a.logger)
	return orch, cycler
}

// startHTTPServer adds the API server and WebSocket hub goroutines to g.
// The server is shut down gracefully when the context is cancelled. trigger
// is nil outside full mode.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, trigger handler.CycleTrigger) {
	probes := map[string]handler.Pinger{
		"postgres": deps.Postgres,
		"redis":    deps.Redis,
	}
	var archives handler.QuoteArchives
	if deps.S3 != nil {
		probes["s3"] = deps.S3
		archives = deps.QuoteArchiver
	}

	h := server.Handlers{
		Health:     handler.NewHealthHandler(a.cfg.Mode, probes, a.logger),
		Wallet:     handler.NewWalletHandler(deps.Ledger, deps.Withdrawals, deps.Inventory, a.logger),
		Games:      handler.NewGameHandler(deps.Cases, deps.Casino, a.logger),
		Valuations: handler.NewValuationHandler(deps.Valuations, a.logger),
		Admin:      handler.NewAdminHandler(deps.Ledger, deps.Withdrawals, deps.Notifier, a.logger),
		Pipeline:   handler.NewPipelineHandler(trigger, archives, a.logger),
		Stream:     handler.NewStreamHandler(deps.SignalBus, a.logger),
	}

	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, h, deps.RateLimiter, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
