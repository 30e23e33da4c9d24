package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/caseledger/internal/blob/s3"
	"github.com/alanyoungcy/caseledger/internal/cache/redis"
	"github.com/alanyoungcy/caseledger/internal/config"
	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/gamecfg"
	"github.com/alanyoungcy/caseledger/internal/notify"
	"github.com/alanyoungcy/caseledger/internal/outcome"
	"github.com/alanyoungcy/caseledger/internal/platform/market"
	"github.com/alanyoungcy/caseledger/internal/service"
	"github.com/alanyoungcy/caseledger/internal/store/postgres"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Storage
	Atomic     domain.Atomic
	AuditStore domain.AuditStore
	Postgres   *postgres.Client

	// Caches
	Redis          *redis.Client
	ValuationCache domain.ValuationCache
	RateLimiter    domain.RateLimiter
	LockManager    domain.LockManager
	SignalBus      domain.SignalBus

	// Blob storage; nil when no bucket is configured.
	S3            *s3blob.Client
	QuoteArchiver *s3blob.QuoteArchiver

	// Services
	Ledger      *service.LedgerService
	Withdrawals *service.WithdrawalService
	Inventory   *service.InventoryService
	Cases       *service.CaseService
	Casino      *service.CasinoService
	Valuations  *service.ValuationService

	// Notifications
	Notifier *notify.Notifier
}

// needsGames reports whether the mode serves the player API.
func needsGames(mode string) bool {
	return mode == "server" || mode == "full"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}
	deps.Postgres = pgClient
	deps.Atomic = postgres.NewAtomic(pgClient.Pool())
	deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.ValuationCache = redis.NewValuationCache(redisClient, cfg.Redis.ValuationTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only when a bucket is configured) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.S3 = s3Client
		deps.QuoteArchiver = s3blob.NewQuoteArchiver(
			deps.Atomic,
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.AuditStore,
			cfg.Archive.BatchSize,
		)
	}

	// --- Services ---
	fee, err := cfg.WithdrawFee()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Ledger = service.NewLedgerService(deps.Atomic, deps.SignalBus, logger)
	deps.Withdrawals = service.NewWithdrawalService(deps.Atomic, fee, deps.SignalBus, logger)
	deps.Inventory = service.NewInventoryService(deps.Atomic, deps.SignalBus, logger)

	if needsGames(mode) {
		games, err := gamecfg.Load(cfg.Games.Path)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		rng, err := newRand(cfg.Games.Seed, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: rng: %w", err))
		}
		deps.Cases = service.NewCaseService(deps.Atomic, games, rng, deps.SignalBus, logger)
		deps.Casino = service.NewCasinoService(deps.Atomic, games, rng, deps.SignalBus, logger)
	}

	deps.Valuations = service.NewValuationService(
		deps.Atomic,
		buildSources(cfg.Ingest, deps.Notifier, logger),
		deps.ValuationCache,
		deps.LockManager,
		deps.SignalBus,
		service.ValuationConfig{
			Params:       cfg.ValuationParams(),
			BaseCurrency: cfg.Ingest.BaseCurrency,
			Rates:        cfg.Ingest.Rates,
			LockTTL:      cfg.Ingest.LockTTL.Duration,
		},
		logger,
	)

	return deps, cleanup, nil
}

// buildSources wraps every configured feed with retries and its own circuit
// breaker. A breaker opening raises a source_down alert.
func buildSources(in config.IngestConfig, n *notify.Notifier, logger *slog.Logger) []domain.QuoteSource {
	policy := market.RetryPolicy{
		MaxAttempts: in.Retry.MaxAttempts,
		MinDelay:    in.Retry.MinDelay.Duration,
		MaxDelay:    in.Retry.MaxDelay.Duration,
		Factor:      in.Retry.Factor,
		Jitter:      in.Retry.Jitter,
	}
	sources := make([]domain.QuoteSource, 0, len(in.Sources))
	for _, sc := range in.Sources {
		client := market.NewClient(market.ClientConfig{
			Name:    sc.Name,
			BaseURL: sc.BaseURL,
			Path:    sc.Path,
			APIKey:  sc.APIKey,
			Timeout: sc.Timeout.Duration,
		})
		breaker := market.NewBreaker(sc.Name, in.Breaker.Threshold, in.Breaker.Cooldown.Duration)
		sources = append(sources, market.NewResilient(client, policy, breaker, n.SourceDown, logger))
	}
	return sources
}

// newRand returns a seeded generator when seed is set and an entropy-seeded
// one otherwise.
func newRand(seed uint64, logger *slog.Logger) (outcome.Rand, error) {
	if seed != 0 {
		logger.Warn("games: deterministic seed configured; outcomes are reproducible",
			slog.Uint64("seed", seed),
		)
		return outcome.NewSeeded(seed), nil
	}
	return outcome.NewSource()
}
