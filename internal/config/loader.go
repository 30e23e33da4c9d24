package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults and applies CASELEDGER_*
// environment overrides. A missing file is not an error. The result is not
// validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-deploy settings
// without touching the TOML file. Unset or empty variables change nothing.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CASELEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CASELEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CASELEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CASELEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CASELEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CASELEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CASELEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CASELEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CASELEDGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CASELEDGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CASELEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CASELEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CASELEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CASELEDGER_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "CASELEDGER_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.ValuationTTL, "CASELEDGER_REDIS_VALUATION_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CASELEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CASELEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "CASELEDGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CASELEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CASELEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CASELEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CASELEDGER_S3_FORCE_PATH_STYLE")

	// ── Ingest ──
	setDuration(&cfg.Ingest.Interval, "CASELEDGER_INGEST_INTERVAL")
	setDuration(&cfg.Ingest.Window, "CASELEDGER_INGEST_WINDOW")
	setFloat64(&cfg.Ingest.K, "CASELEDGER_INGEST_K")
	setFloat64(&cfg.Ingest.Alpha, "CASELEDGER_INGEST_ALPHA")
	setFloat64(&cfg.Ingest.Cap, "CASELEDGER_INGEST_CAP")
	setFloat64(&cfg.Ingest.Materiality, "CASELEDGER_INGEST_MATERIALITY")
	setStr(&cfg.Ingest.BaseCurrency, "CASELEDGER_INGEST_BASE_CURRENCY")
	// Source API keys by name: CASELEDGER_SOURCE_<NAME>_API_KEY.
	for i := range cfg.Ingest.Sources {
		name := strings.ToUpper(strings.ReplaceAll(cfg.Ingest.Sources[i].Name, "-", "_"))
		setStr(&cfg.Ingest.Sources[i].APIKey, "CASELEDGER_SOURCE_"+name+"_API_KEY")
	}

	// ── Wallet ──
	setStr(&cfg.Wallet.WithdrawFee, "CASELEDGER_WALLET_WITHDRAW_FEE")
	setDuration(&cfg.Wallet.PendingTTL, "CASELEDGER_WALLET_PENDING_TTL")

	// ── Games / archive ──
	setStr(&cfg.Games.Path, "CASELEDGER_GAMES_PATH")
	setInt(&cfg.Archive.RetentionDays, "CASELEDGER_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "CASELEDGER_ARCHIVE_CRON")

	// ── Server ──
	setInt(&cfg.Server.Port, "CASELEDGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CASELEDGER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CASELEDGER_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CASELEDGER_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CASELEDGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CASELEDGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CASELEDGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CASELEDGER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CASELEDGER_MODE")
	setStr(&cfg.LogLevel, "CASELEDGER_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
