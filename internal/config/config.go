// Package config defines the top-level configuration for the trading engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CROSSARB_* environment
// variables.
type Config struct {
	Symbols   []string        `toml:"symbols"`
	Engine    EngineConfig    `toml:"engine"`
	Binance   BinanceConfig   `toml:"binance"`
	Kraken    KrakenConfig    `toml:"kraken"`
	Signal    SignalConfig    `toml:"signal"`
	Fees      FeesConfig      `toml:"fees"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// EngineConfig holds the control-loop parameters.
type EngineConfig struct {
	VenueA       string   `toml:"venue_a"`
	VenueB       string   `toml:"venue_b"`
	Cooldown     duration `toml:"cooldown"`
	EvalInterval duration `toml:"eval_interval"`
	Workers      int      `toml:"workers"`
	TradeHistory int      `toml:"trade_history"`
	DryRun       bool     `toml:"dry_run"`
}

// BinanceConfig holds the Binance connection and credential parameters.
type BinanceConfig struct {
	WSURL           string   `toml:"ws_url"`
	RestURL         string   `toml:"rest_url"`
	APIKey          string   `toml:"api_key"`
	SecretKey       string   `toml:"secret_key"`
	OrderRateLimit  int      `toml:"order_rate_limit"`
	OrderRateWindow duration `toml:"order_rate_window"`
}

// KrakenConfig holds the Kraken connection and credential parameters. Pairs
// maps canonical symbols to the venue's pair names.
type KrakenConfig struct {
	WSURL           string            `toml:"ws_url"`
	RestURL         string            `toml:"rest_url"`
	APIKey          string            `toml:"api_key"`
	SecretKey       string            `toml:"secret_key"`
	Pairs           map[string]string `toml:"pairs"`
	OrderRateLimit  int               `toml:"order_rate_limit"`
	OrderRateWindow duration          `toml:"order_rate_window"`
}

// SignalConfig holds the spread statistics parameters.
type SignalConfig struct {
	Windows        []duration `toml:"windows"`
	BaseThreshold  float64    `toml:"base_threshold"`
	VolImpact      float64    `toml:"vol_impact"`
	MomentumWindow int        `toml:"momentum_window"`
	VolWindow      int        `toml:"vol_window"`
	VolumeHistory  int        `toml:"volume_history"`
}

// FeeTier is one volume tier in a venue's fee table.
type FeeTier struct {
	MinVolume float64 `toml:"min_volume"`
	MakerFee  float64 `toml:"maker_fee"`
	TakerFee  float64 `toml:"taker_fee"`
	Currency  string  `toml:"currency"`
}

// VenueFeesConfig holds one venue's default rates plus its tier table.
type VenueFeesConfig struct {
	DefaultMaker float64   `toml:"default_maker"`
	DefaultTaker float64   `toml:"default_taker"`
	Tiers        []FeeTier `toml:"tiers"`
}

// FeesConfig holds the fee schedule and profitability floors.
type FeesConfig struct {
	Venues           map[string]VenueFeesConfig `toml:"venues"`
	MinProfit        map[string]float64         `toml:"min_profit"`
	DefaultMinProfit float64                    `toml:"default_min_profit"`
}

// RiskConfig holds position and loss limits.
type RiskConfig struct {
	Variant             string             `toml:"variant"` // "basic" or "enhanced"
	MaxNotionalPerTrade map[string]float64 `toml:"max_notional_per_trade"`
	DefaultMaxNotional  float64            `toml:"default_max_notional"`
	MaxTotalNotional    float64            `toml:"max_total_notional"`
	MaxDrawdown         float64            `toml:"max_drawdown"` // negative
	StopSpreadAmount    float64            `toml:"stop_spread_amount"`
	ExitZThreshold      float64            `toml:"exit_z_threshold"`
	BasePositionSizes   map[string]float64 `toml:"base_position_sizes"`
	DefaultBaseSize     float64            `toml:"default_base_size"`

	// Enhanced-variant parameters.
	MaxPositionValues       map[string]float64 `toml:"max_position_values"`
	ReferencePortfolioValue float64            `toml:"reference_portfolio_value"`
	VolScalingFactor        float64            `toml:"vol_scaling_factor"`
	CorrelationRefresh      int                `toml:"correlation_refresh"`
	MinCorrelationSamples   int                `toml:"min_correlation_samples"`
	ReturnHistory           int                `toml:"return_history"`
	VarFraction             float64            `toml:"var_fraction"`
	MaxPortfolioVaR         float64            `toml:"max_portfolio_var"`
}

// ExecutionConfig holds the order slicing and quality gates.
type ExecutionConfig struct {
	MaxImpact         float64 `toml:"max_impact"`
	MinLiquidityScore float64 `toml:"min_liquidity_score"`
	IcebergThreshold  float64 `toml:"iceberg_threshold"`
	ChunkFraction     float64 `toml:"chunk_fraction"`
	DepthFraction     float64 `toml:"depth_fraction"`
	MinChunkSize      float64 `toml:"min_chunk_size"`
	MinFillRatio      float64 `toml:"min_fill_ratio"`
	MaxRetries        int     `toml:"max_retries"`
	ReportBuffer      int     `toml:"report_buffer"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// S3Config holds object storage parameters for trade archiving.
type S3Config struct {
	Enabled          bool     `toml:"enabled"`
	Endpoint         string   `toml:"endpoint"`
	Region           string   `toml:"region"`
	Bucket           string   `toml:"bucket"`
	AccessKey        string   `toml:"access_key"`
	SecretKey        string   `toml:"secret_key"`
	UseSSL           bool     `toml:"use_ssl"`
	ForcePathStyle   bool     `toml:"force_path_style"`
	ArchiveInterval  duration `toml:"archive_interval"`
	ArchiveRetention duration `toml:"archive_retention"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Symbols: []string{"BTCUSDT", "ETHUSDT"},
		Engine: EngineConfig{
			VenueA:       "binance",
			VenueB:       "kraken",
			Cooldown:     duration{30 * time.Second},
			EvalInterval: duration{500 * time.Millisecond},
			Workers:      4,
			TradeHistory: 1000,
			DryRun:       false,
		},
		Binance: BinanceConfig{
			WSURL:           "wss://stream.binance.com:9443/stream",
			RestURL:         "https://api.binance.com",
			OrderRateLimit:  10,
			OrderRateWindow: duration{time.Second},
		},
		Kraken: KrakenConfig{
			WSURL:   "wss://ws.kraken.com/v2",
			RestURL: "https://api.kraken.com",
			Pairs: map[string]string{
				"BTCUSDT": "BTC/USDT",
				"ETHUSDT": "ETH/USDT",
			},
			OrderRateLimit:  5,
			OrderRateWindow: duration{time.Second},
		},
		Signal: SignalConfig{
			Windows: []duration{
				{1 * time.Minute},
				{5 * time.Minute},
				{15 * time.Minute},
			},
			BaseThreshold:  2.0,
			VolImpact:      0.5,
			MomentumWindow: 10,
			VolWindow:      20,
			VolumeHistory:  50,
		},
		Fees: FeesConfig{
			Venues: map[string]VenueFeesConfig{
				"binance": {
					DefaultMaker: 0.001,
					DefaultTaker: 0.001,
					Tiers: []FeeTier{
						{MinVolume: 0, MakerFee: 0.001, TakerFee: 0.001, Currency: "USDT"},
						{MinVolume: 1_000_000, MakerFee: 0.0009, TakerFee: 0.001, Currency: "USDT"},
						{MinVolume: 5_000_000, MakerFee: 0.0008, TakerFee: 0.0009, Currency: "USDT"},
					},
				},
				"kraken": {
					DefaultMaker: 0.0016,
					DefaultTaker: 0.0026,
					Tiers: []FeeTier{
						{MinVolume: 0, MakerFee: 0.0016, TakerFee: 0.0026, Currency: "USD"},
						{MinVolume: 50_000, MakerFee: 0.0014, TakerFee: 0.0024, Currency: "USD"},
						{MinVolume: 100_000, MakerFee: 0.0012, TakerFee: 0.0022, Currency: "USD"},
					},
				},
			},
			MinProfit:        map[string]float64{},
			DefaultMinProfit: 0.5,
		},
		Risk: RiskConfig{
			Variant:                 "enhanced",
			MaxNotionalPerTrade:     map[string]float64{},
			DefaultMaxNotional:      50_000,
			MaxTotalNotional:        200_000,
			MaxDrawdown:             -5_000,
			StopSpreadAmount:        50,
			ExitZThreshold:          0.5,
			BasePositionSizes:       map[string]float64{},
			DefaultBaseSize:         0.1,
			MaxPositionValues:       map[string]float64{},
			ReferencePortfolioValue: 100_000,
			VolScalingFactor:        10,
			CorrelationRefresh:      50,
			MinCorrelationSamples:   20,
			ReturnHistory:           500,
			VarFraction:             0.02,
			MaxPortfolioVaR:         10_000,
		},
		Execution: ExecutionConfig{
			MaxImpact:         0.002,
			MinLiquidityScore: 0.5,
			IcebergThreshold:  1.0,
			ChunkFraction:     0.20,
			DepthFraction:     0.10,
			MinChunkSize:      0.1,
			MinFillRatio:      0.8,
			MaxRetries:        3,
			ReportBuffer:      1000,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "crossarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:          false,
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "crossarb-archive",
			UseSSL:           false,
			ForcePathStyle:   true,
			ArchiveInterval:  duration{24 * time.Hour},
			ArchiveRetention: duration{90 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"naked_exposure", "drawdown_halt", "feed_down"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper":   true,
	"live":    true,
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols must not be empty")
	}

	if c.Engine.VenueA == "" || c.Engine.VenueB == "" {
		errs = append(errs, "engine: venue_a and venue_b must be set")
	}
	if c.Engine.VenueA == c.Engine.VenueB {
		errs = append(errs, "engine: venue_a and venue_b must differ")
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, "engine: workers must be >= 1")
	}

	// Live trading needs credentials on both venues and pair mappings for
	// every traded symbol.
	if strings.ToLower(c.Mode) == "live" {
		if c.Binance.APIKey == "" || c.Binance.SecretKey == "" {
			errs = append(errs, "binance: api_key and secret_key are required for live mode")
		}
		if c.Kraken.APIKey == "" || c.Kraken.SecretKey == "" {
			errs = append(errs, "kraken: api_key and secret_key are required for live mode")
		}
		for _, sym := range c.Symbols {
			if _, ok := c.Kraken.Pairs[sym]; !ok {
				errs = append(errs, fmt.Sprintf("kraken: no pair mapping for symbol %q", sym))
			}
		}
	}

	for _, w := range c.Signal.Windows {
		if w.Duration <= 0 {
			errs = append(errs, "signal: windows must all be positive durations")
			break
		}
	}
	if c.Signal.BaseThreshold <= 0 {
		errs = append(errs, "signal: base_threshold must be > 0")
	}

	if c.Fees.DefaultMinProfit < 0 {
		errs = append(errs, "fees: default_min_profit must be >= 0")
	}

	if c.Risk.Variant != "basic" && c.Risk.Variant != "enhanced" {
		errs = append(errs, fmt.Sprintf("risk: variant must be \"basic\" or \"enhanced\", got %q", c.Risk.Variant))
	}
	if c.Risk.DefaultMaxNotional <= 0 {
		errs = append(errs, "risk: default_max_notional must be > 0")
	}
	if c.Risk.MaxTotalNotional <= 0 {
		errs = append(errs, "risk: max_total_notional must be > 0")
	}
	if c.Risk.MaxDrawdown > 0 {
		errs = append(errs, "risk: max_drawdown must be negative (a loss) or zero to disable")
	}
	if c.Risk.DefaultBaseSize <= 0 {
		errs = append(errs, "risk: default_base_size must be > 0")
	}

	if c.Execution.MaxImpact <= 0 {
		errs = append(errs, "execution: max_impact must be > 0")
	}
	if c.Execution.MinLiquidityScore < 0 || c.Execution.MinLiquidityScore > 1 {
		errs = append(errs, "execution: min_liquidity_score must be in [0, 1]")
	}
	if c.Execution.IcebergThreshold <= 0 {
		errs = append(errs, "execution: iceberg_threshold must be > 0")
	}
	if c.Execution.ChunkFraction <= 0 || c.Execution.ChunkFraction > 1 {
		errs = append(errs, "execution: chunk_fraction must be in (0, 1]")
	}
	if c.Execution.MinChunkSize <= 0 {
		errs = append(errs, "execution: min_chunk_size must be > 0")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archiving requires postgres to be enabled")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// SignalWindows converts the configured windows to plain durations.
func (c *Config) SignalWindows() []time.Duration {
	out := make([]time.Duration, len(c.Signal.Windows))
	for i, w := range c.Signal.Windows {
		out[i] = w.Duration
	}
	return out
}
