package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

const sampleTOML = `
mode = "full"
log_level = "debug"

[postgres]
dsn = "postgres://app:secret@db:5432/caseledger"

[ingest]
interval = "2m"
alpha = 0.5
rates = { EUR = 1.1 }

[[ingest.sources]]
name = "skinport"
base_url = "https://api.skinport.example"
path = "/v1/items"
timeout = "5s"

[wallet]
withdraw_fee = "0.50"
pending_ttl = "15m"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, 2*time.Minute, cfg.Ingest.Interval.Duration)
	require.Equal(t, 0.5, cfg.Ingest.Alpha)
	require.Equal(t, 0.30, cfg.Ingest.Cap)
	require.Equal(t, 1.1, cfg.Ingest.Rates["EUR"])
	require.Len(t, cfg.Ingest.Sources, 1)
	require.Equal(t, 5*time.Second, cfg.Ingest.Sources[0].Timeout.Duration)
	require.Equal(t, 8000, cfg.Server.Port)

	fee, err := cfg.WithdrawFee()
	require.NoError(t, err)
	require.Equal(t, domain.Money(50), fee)

	p := cfg.ValuationParams()
	require.Equal(t, 72*time.Hour, p.Window)
	require.Equal(t, 0.5, p.Alpha)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, "full", cfg.Mode)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CASELEDGER_MODE", "server")
	t.Setenv("CASELEDGER_SERVER_PORT", "9090")
	t.Setenv("CASELEDGER_INGEST_CAP", "0.2")
	t.Setenv("CASELEDGER_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("CASELEDGER_SOURCE_SKINPORT_API_KEY", "sk-live")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.Equal(t, "server", cfg.Mode)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 0.2, cfg.Ingest.Cap)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	require.Equal(t, "sk-live", cfg.Ingest.Sources[0].APIKey)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Ingest.Alpha = 0
	cfg.Ingest.Cap = 1.5
	cfg.Wallet.WithdrawFee = "-1"
	cfg.S3.Bucket = "archive"
	cfg.Archive.RetentionDays = 1

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"alpha must be in (0, 1]",
		"cap must be in (0, 1)",
		"withdraw_fee must be >= 0",
		"retention must be longer than ingest.window",
	} {
		require.ErrorContains(t, err, want)
	}
}

func TestValidateIngestNeedsSources(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "ingest"
	require.ErrorContains(t, cfg.Validate(), "at least one source")

	cfg.Mode = "server"
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	cfg.Ingest.Sources[0].APIKey = "sk-live"
	cfg.Server.APIKey = "op"

	red := RedactedConfig(cfg)
	require.Equal(t, redacted, red.Postgres.DSN)
	require.Equal(t, redacted, red.Server.APIKey)
	require.Equal(t, redacted, red.Ingest.Sources[0].APIKey)
	require.Equal(t, "sk-live", cfg.Ingest.Sources[0].APIKey)
	require.Empty(t, red.Postgres.Password)
}
