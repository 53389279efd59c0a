package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CROSSARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CROSSARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.VenueA, "CROSSARB_ENGINE_VENUE_A")
	setStr(&cfg.Engine.VenueB, "CROSSARB_ENGINE_VENUE_B")
	setDuration(&cfg.Engine.Cooldown, "CROSSARB_ENGINE_COOLDOWN")
	setDuration(&cfg.Engine.EvalInterval, "CROSSARB_ENGINE_EVAL_INTERVAL")
	setInt(&cfg.Engine.Workers, "CROSSARB_ENGINE_WORKERS")
	setInt(&cfg.Engine.TradeHistory, "CROSSARB_ENGINE_TRADE_HISTORY")
	setBool(&cfg.Engine.DryRun, "CROSSARB_ENGINE_DRY_RUN")

	// ── Binance ──
	setStr(&cfg.Binance.WSURL, "CROSSARB_BINANCE_WS_URL")
	setStr(&cfg.Binance.RestURL, "CROSSARB_BINANCE_REST_URL")
	setStr(&cfg.Binance.APIKey, "CROSSARB_BINANCE_API_KEY")
	setStr(&cfg.Binance.SecretKey, "CROSSARB_BINANCE_SECRET_KEY")
	setInt(&cfg.Binance.OrderRateLimit, "CROSSARB_BINANCE_ORDER_RATE_LIMIT")
	setDuration(&cfg.Binance.OrderRateWindow, "CROSSARB_BINANCE_ORDER_RATE_WINDOW")

	// ── Kraken ──
	setStr(&cfg.Kraken.WSURL, "CROSSARB_KRAKEN_WS_URL")
	setStr(&cfg.Kraken.RestURL, "CROSSARB_KRAKEN_REST_URL")
	setStr(&cfg.Kraken.APIKey, "CROSSARB_KRAKEN_API_KEY")
	setStr(&cfg.Kraken.SecretKey, "CROSSARB_KRAKEN_SECRET_KEY")
	setInt(&cfg.Kraken.OrderRateLimit, "CROSSARB_KRAKEN_ORDER_RATE_LIMIT")
	setDuration(&cfg.Kraken.OrderRateWindow, "CROSSARB_KRAKEN_ORDER_RATE_WINDOW")

	// ── Signal ──
	setFloat64(&cfg.Signal.BaseThreshold, "CROSSARB_SIGNAL_BASE_THRESHOLD")
	setFloat64(&cfg.Signal.VolImpact, "CROSSARB_SIGNAL_VOL_IMPACT")
	setInt(&cfg.Signal.MomentumWindow, "CROSSARB_SIGNAL_MOMENTUM_WINDOW")
	setInt(&cfg.Signal.VolWindow, "CROSSARB_SIGNAL_VOL_WINDOW")
	setInt(&cfg.Signal.VolumeHistory, "CROSSARB_SIGNAL_VOLUME_HISTORY")

	// ── Fees ──
	setFloat64(&cfg.Fees.DefaultMinProfit, "CROSSARB_FEES_DEFAULT_MIN_PROFIT")

	// ── Risk ──
	setStr(&cfg.Risk.Variant, "CROSSARB_RISK_VARIANT")
	setFloat64(&cfg.Risk.DefaultMaxNotional, "CROSSARB_RISK_DEFAULT_MAX_NOTIONAL")
	setFloat64(&cfg.Risk.MaxTotalNotional, "CROSSARB_RISK_MAX_TOTAL_NOTIONAL")
	setFloat64(&cfg.Risk.MaxDrawdown, "CROSSARB_RISK_MAX_DRAWDOWN")
	setFloat64(&cfg.Risk.StopSpreadAmount, "CROSSARB_RISK_STOP_SPREAD_AMOUNT")
	setFloat64(&cfg.Risk.ExitZThreshold, "CROSSARB_RISK_EXIT_Z_THRESHOLD")
	setFloat64(&cfg.Risk.DefaultBaseSize, "CROSSARB_RISK_DEFAULT_BASE_SIZE")
	setFloat64(&cfg.Risk.MaxPortfolioVaR, "CROSSARB_RISK_MAX_PORTFOLIO_VAR")

	// ── Execution ──
	setFloat64(&cfg.Execution.MaxImpact, "CROSSARB_EXECUTION_MAX_IMPACT")
	setFloat64(&cfg.Execution.MinLiquidityScore, "CROSSARB_EXECUTION_MIN_LIQUIDITY_SCORE")
	setFloat64(&cfg.Execution.IcebergThreshold, "CROSSARB_EXECUTION_ICEBERG_THRESHOLD")
	setFloat64(&cfg.Execution.ChunkFraction, "CROSSARB_EXECUTION_CHUNK_FRACTION")
	setFloat64(&cfg.Execution.MinFillRatio, "CROSSARB_EXECUTION_MIN_FILL_RATIO")
	setInt(&cfg.Execution.MaxRetries, "CROSSARB_EXECUTION_MAX_RETRIES")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CROSSARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CROSSARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CROSSARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CROSSARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CROSSARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CROSSARB_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CROSSARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CROSSARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CROSSARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CROSSARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CROSSARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CROSSARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CROSSARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CROSSARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CROSSARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CROSSARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CROSSARB_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CROSSARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CROSSARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CROSSARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "CROSSARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CROSSARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CROSSARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CROSSARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CROSSARB_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "CROSSARB_S3_ARCHIVE_INTERVAL")
	setDuration(&cfg.S3.ArchiveRetention, "CROSSARB_S3_ARCHIVE_RETENTION")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CROSSARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CROSSARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CROSSARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CROSSARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CROSSARB_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "CROSSARB_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CROSSARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CROSSARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CROSSARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CROSSARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStringSlice(&cfg.Symbols, "CROSSARB_SYMBOLS")
	setStr(&cfg.Mode, "CROSSARB_MODE")
	setStr(&cfg.LogLevel, "CROSSARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
