package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Symbols = nil
	cfg.Engine.VenueB = cfg.Engine.VenueA
	cfg.Risk.MaxDrawdown = 100
	cfg.Execution.IcebergThreshold = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "symbols must not be empty")
	assert.Contains(t, err.Error(), "venue_a and venue_b must differ")
	assert.Contains(t, err.Error(), "max_drawdown")
	assert.Contains(t, err.Error(), "iceberg_threshold")
}

func TestValidateLiveModeRequiresCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binance: api_key")
	assert.Contains(t, err.Error(), "kraken: api_key")

	cfg.Binance.APIKey = "k"
	cfg.Binance.SecretKey = "s"
	cfg.Kraken.APIKey = "k"
	cfg.Kraken.SecretKey = "c2VjcmV0"
	require.NoError(t, cfg.Validate())
}

func TestValidateLiveModeRequiresPairMapping(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"
	cfg.Binance.APIKey = "k"
	cfg.Binance.SecretKey = "s"
	cfg.Kraken.APIKey = "k"
	cfg.Kraken.SecretKey = "c2VjcmV0"
	cfg.Symbols = []string{"SOLUSDT"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no pair mapping for symbol "SOLUSDT"`)
}

func TestValidateArchiveRequiresPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.S3.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archiving requires postgres")

	cfg.Postgres.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"
log_level = "debug"
symbols = ["BTCUSDT"]

[engine]
cooldown = "45s"
workers = 8

[signal]
windows = ["30s", "2m"]
base_threshold = 1.5

[kraken.pairs]
BTCUSDT = "XBT/USDT"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Symbols)
	assert.Equal(t, 45*time.Second, cfg.Engine.Cooldown.Duration)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, []time.Duration{30 * time.Second, 2 * time.Minute}, cfg.SignalWindows())
	assert.Equal(t, 1.5, cfg.Signal.BaseThreshold)
	assert.Equal(t, "XBT/USDT", cfg.Kraken.Pairs["BTCUSDT"])

	// Untouched sections keep their defaults.
	assert.Equal(t, "binance", cfg.Engine.VenueA)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = \"paper\"\n"), 0o600))

	t.Setenv("CROSSARB_MODE", "server")
	t.Setenv("CROSSARB_REDIS_ADDR", "redis:6380")
	t.Setenv("CROSSARB_BINANCE_SECRET_KEY", "supersecret")
	t.Setenv("CROSSARB_ENGINE_COOLDOWN", "2m")
	t.Setenv("CROSSARB_SYMBOLS", "BTCUSDT, ETHUSDT ,SOLUSDT")
	t.Setenv("CROSSARB_SERVER_RATE_LIMIT", "100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "supersecret", cfg.Binance.SecretKey)
	assert.Equal(t, 2*time.Minute, cfg.Engine.Cooldown.Duration)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Symbols)
	assert.Equal(t, 100, cfg.Server.RateLimit)
}

func TestEnvOverrideIgnoresMalformedValues(t *testing.T) {
	cfg := Defaults()
	t.Setenv("CROSSARB_ENGINE_WORKERS", "lots")
	t.Setenv("CROSSARB_ENGINE_COOLDOWN", "soon")
	applyEnvOverrides(&cfg)

	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 30*time.Second, cfg.Engine.Cooldown.Duration)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Binance.APIKey = "key"
	cfg.Binance.SecretKey = "secret"
	cfg.Kraken.SecretKey = "secret"
	cfg.Redis.Password = "hunter2"
	cfg.Notify.TelegramToken = "123:abc"
	cfg.Server.APIKey = "serverkey"

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Binance.APIKey)
	assert.Equal(t, "***", out.Binance.SecretKey)
	assert.Equal(t, "***", out.Kraken.SecretKey)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.Server.APIKey)

	// Original untouched, and the copy does not alias its slices.
	assert.Equal(t, "secret", cfg.Binance.SecretKey)
	out.Symbols[0] = "mutated"
	assert.Equal(t, "BTCUSDT", cfg.Symbols[0])

	// Non-secret fields survive.
	assert.Equal(t, cfg.Kraken.Pairs["BTCUSDT"], out.Kraken.Pairs["BTCUSDT"])
	assert.Empty(t, out.Kraken.APIKey) // was never set
}
