// Package config defines the process configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/valuation"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by CASELEDGER_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Ingest   IngestConfig   `toml:"ingest"`
	Wallet   WalletConfig   `toml:"wallet"`
	Games    GamesConfig    `toml:"games"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds database connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. An empty Addr runs without
// Redis: no cache, no cross-process lock, no pub/sub and no rate limiting.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	ValuationTTL duration `toml:"valuation_ttl"`
}

// S3Config holds the quote archive bucket. An empty Bucket disables
// archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// IngestConfig tunes the valuation cycle.
type IngestConfig struct {
	Interval        duration           `toml:"interval"`
	Window          duration           `toml:"window"`
	K               float64            `toml:"k"`
	MinSamples      int                `toml:"min_samples"`
	ZeroMADFraction float64            `toml:"zero_mad_fraction"`
	Alpha           float64            `toml:"alpha"`
	Cap             float64            `toml:"cap"`
	Materiality     float64            `toml:"materiality"`
	BaseCurrency    string             `toml:"base_currency"`
	Rates           map[string]float64 `toml:"rates"`
	LockTTL         duration           `toml:"lock_ttl"`
	Retry           RetryConfig        `toml:"retry"`
	Breaker         BreakerConfig      `toml:"breaker"`
	Sources         []SourceConfig     `toml:"sources"`
}

// RetryConfig is the per-source retry policy.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	MinDelay    duration `toml:"min_delay"`
	MaxDelay    duration `toml:"max_delay"`
	Factor      float64  `toml:"factor"`
	Jitter      bool     `toml:"jitter"`
}

// BreakerConfig is the per-source circuit breaker.
type BreakerConfig struct {
	Threshold int      `toml:"threshold"`
	Cooldown  duration `toml:"cooldown"`
}

// SourceConfig is one marketplace quote feed.
type SourceConfig struct {
	Name    string   `toml:"name"`
	BaseURL string   `toml:"base_url"`
	Path    string   `toml:"path"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// WalletConfig holds withdrawal settings.
type WalletConfig struct {
	WithdrawFee string   `toml:"withdraw_fee"`
	PendingTTL  duration `toml:"pending_ttl"`
	ExpiryEvery duration `toml:"expiry_interval"`
	ExpiryBatch int      `toml:"expiry_batch"`
}

// GamesConfig points at the YAML file with case tables and casino odds.
type GamesConfig struct {
	Path string `toml:"path"`
	Seed uint64 `toml:"seed"`
}

// ArchiveConfig controls moving aged quotes to S3.
type ArchiveConfig struct {
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	BatchSize     int    `toml:"batch_size"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds operator alert channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration decodes "5m" style strings from TOML.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration used for anything the file omits.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "caseledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  20,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			ValuationTTL: duration{10 * time.Minute},
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Ingest: IngestConfig{
			Interval:        duration{5 * time.Minute},
			Window:          duration{72 * time.Hour},
			K:               6,
			MinSamples:      3,
			ZeroMADFraction: 0.01,
			Alpha:           0.3,
			Cap:             0.30,
			Materiality:     0.01,
			BaseCurrency:    "USD",
			Rates:           map[string]float64{},
			LockTTL:         duration{2 * time.Minute},
			Retry: RetryConfig{
				MaxAttempts: 3,
				MinDelay:    duration{500 * time.Millisecond},
				MaxDelay:    duration{10 * time.Second},
				Factor:      2,
				Jitter:      true,
			},
			Breaker: BreakerConfig{
				Threshold: 5,
				Cooldown:  duration{time.Minute},
			},
		},
		Wallet: WalletConfig{
			WithdrawFee: "0.00",
			PendingTTL:  duration{30 * time.Minute},
			ExpiryEvery: duration{time.Minute},
			ExpiryBatch: 100,
		},
		Games: GamesConfig{Path: "games.yaml"},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 * * *",
			BatchSize:     5000,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"source_down", "cycle_failed", "ledger_inconsistent"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true,
	"ingest": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the whole configuration and reports every problem at
// once.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, ingest, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: need 0 <= pool_min_conns <= pool_max_conns")
	}

	in := c.Ingest
	if mode != "server" {
		if in.Interval.Duration <= 0 {
			errs = append(errs, "ingest: interval must be positive")
		}
		if len(in.Sources) == 0 {
			errs = append(errs, "ingest: at least one source is required for mode "+mode)
		}
	}
	if in.Window.Duration <= 0 {
		errs = append(errs, "ingest: window must be positive")
	}
	if in.K <= 0 {
		errs = append(errs, "ingest: k must be positive")
	}
	if in.MinSamples < 1 {
		errs = append(errs, "ingest: min_samples must be >= 1")
	}
	if in.Alpha <= 0 || in.Alpha > 1 {
		errs = append(errs, fmt.Sprintf("ingest: alpha must be in (0, 1], got %g", in.Alpha))
	}
	if in.Cap <= 0 || in.Cap >= 1 {
		errs = append(errs, fmt.Sprintf("ingest: cap must be in (0, 1), got %g", in.Cap))
	}
	if in.Materiality < 0 {
		errs = append(errs, "ingest: materiality must be >= 0")
	}
	if in.BaseCurrency == "" {
		errs = append(errs, "ingest: base_currency must not be empty")
	}
	for cur, rate := range in.Rates {
		if rate <= 0 {
			errs = append(errs, fmt.Sprintf("ingest: rate for %s must be positive", cur))
		}
	}
	if in.Retry.MaxAttempts < 1 {
		errs = append(errs, "ingest.retry: max_attempts must be >= 1")
	}
	if in.Breaker.Threshold < 1 {
		errs = append(errs, "ingest.breaker: threshold must be >= 1")
	}
	seen := make(map[string]bool, len(in.Sources))
	for i, s := range in.Sources {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Sprintf("ingest.sources[%d]: name must not be empty", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Sprintf("ingest.sources[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		if s.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("ingest.sources[%d]: base_url must not be empty", i))
		}
	}

	if _, err := c.WithdrawFee(); err != nil {
		errs = append(errs, "wallet: "+err.Error())
	}
	if c.Wallet.PendingTTL.Duration <= 0 {
		errs = append(errs, "wallet: pending_ttl must be positive")
	}

	if mode != "ingest" && c.Games.Path == "" {
		errs = append(errs, "games: path must not be empty")
	}

	if c.S3.Bucket != "" {
		if c.Archive.RetentionDays <= 0 {
			errs = append(errs, "archive: retention_days must be positive")
		} else if time.Duration(c.Archive.RetentionDays)*24*time.Hour <= in.Window.Duration {
			errs = append(errs, "archive: retention must be longer than ingest.window")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if mode != "ingest" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// WithdrawFee parses the configured fee. It must not be negative.
func (c *Config) WithdrawFee() (domain.Money, error) {
	fee, err := domain.ParseMoney(c.Wallet.WithdrawFee)
	if err != nil {
		return 0, err
	}
	if fee < 0 {
		return 0, fmt.Errorf("withdraw_fee must be >= 0, got %s", fee)
	}
	return fee, nil
}

// ValuationParams returns the valuation tuning from the ingest section.
func (c *Config) ValuationParams() valuation.Params {
	return valuation.Params{
		Window:          c.Ingest.Window.Duration,
		K:               c.Ingest.K,
		MinSamples:      c.Ingest.MinSamples,
		ZeroMADFraction: c.Ingest.ZeroMADFraction,
		Alpha:           c.Ingest.Alpha,
		Cap:             c.Ingest.Cap,
		Materiality:     c.Ingest.Materiality,
	}
}
