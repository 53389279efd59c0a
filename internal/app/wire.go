package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/vantagelabs/crossarb/internal/blob/s3"
	"github.com/vantagelabs/crossarb/internal/book"
	"github.com/vantagelabs/crossarb/internal/cache/redis"
	"github.com/vantagelabs/crossarb/internal/config"
	"github.com/vantagelabs/crossarb/internal/domain"
	"github.com/vantagelabs/crossarb/internal/fees"
	"github.com/vantagelabs/crossarb/internal/metrics"
	"github.com/vantagelabs/crossarb/internal/notify"
	"github.com/vantagelabs/crossarb/internal/risk"
	"github.com/vantagelabs/crossarb/internal/signal"
	"github.com/vantagelabs/crossarb/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Core pipeline stages.
	Books   *book.Store
	Signals *signal.Engine
	Fees    *fees.Schedule
	Risk    risk.Policy
	Metrics *metrics.Recorder

	// Redis-backed infrastructure.
	SnapshotCache domain.SnapshotCache
	EventBus      domain.EventBus
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager

	// TradeStore is nil unless Postgres is enabled.
	TradeStore *postgres.TradeStore

	// Archiver is nil unless S3 archiving and Postgres are both enabled.
	Archiver *s3blob.Archiver

	// Notifications.
	Notifier *notify.Notifier
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

	deps := &Dependencies{}

	// --- Core pipeline stages ---
	deps.Books = book.NewStore()
	deps.Metrics = metrics.New()

	// Time-of-day hours stay at the calibrated defaults; the TOML surface
	// only exposes the statistical tunables.
	sigCfg := signal.DefaultConfig()
	sigCfg.Windows = cfg.SignalWindows()
	sigCfg.BaseThreshold = cfg.Signal.BaseThreshold
	sigCfg.VolImpact = cfg.Signal.VolImpact
	sigCfg.MomentumWindow = cfg.Signal.MomentumWindow
	sigCfg.VolWindow = cfg.Signal.VolWindow
	sigCfg.VolumeHistory = cfg.Signal.VolumeHistory
	deps.Signals = signal.NewEngine(sigCfg, logger)

	deps.Fees = fees.NewSchedule(feeConfig(cfg), logger)

	deps.Risk = risk.New(risk.Variant(cfg.Risk.Variant), risk.Config{
		MaxNotionalPerTrade:     cfg.Risk.MaxNotionalPerTrade,
		DefaultMaxNotional:      cfg.Risk.DefaultMaxNotional,
		MaxTotalNotional:        cfg.Risk.MaxTotalNotional,
		MaxDrawdown:             cfg.Risk.MaxDrawdown,
		StopSpreadAmount:        cfg.Risk.StopSpreadAmount,
		ExitZThreshold:          cfg.Risk.ExitZThreshold,
		BasePositionSizes:       cfg.Risk.BasePositionSizes,
		DefaultBaseSize:         cfg.Risk.DefaultBaseSize,
		MaxPositionValues:       cfg.Risk.MaxPositionValues,
		ReferencePortfolioValue: cfg.Risk.ReferencePortfolioValue,
		VolScalingFactor:        cfg.Risk.VolScalingFactor,
		CorrelationRefresh:      cfg.Risk.CorrelationRefresh,
		MinCorrelationSamples:   cfg.Risk.MinCorrelationSamples,
		ReturnHistory:           cfg.Risk.ReturnHistory,
		VarFraction:             cfg.Risk.VarFraction,
		MaxPortfolioVaR:         cfg.Risk.MaxPortfolioVaR,
	})

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
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.SnapshotCache = redis.NewSnapshotCache(redisClient)
	deps.EventBus = redis.NewEventBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- PostgreSQL (optional persistence) ---
	if cfg.Postgres.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())
	}

	// --- S3 blob storage (optional trade archiving) ---
	if cfg.S3.Enabled && deps.TradeStore != nil {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.TradeStore, logger)
	}

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

	return deps, cleanup, nil
}

// feeConfig converts the TOML fee sections into the schedule's config.
func feeConfig(cfg *config.Config) fees.Config {
	venues := make(map[string]fees.VenueFees, len(cfg.Fees.Venues))
	for name, vf := range cfg.Fees.Venues {
		tiers := make([]fees.Tier, len(vf.Tiers))
		for i, t := range vf.Tiers {
			tiers[i] = fees.Tier{
				MinVolume: t.MinVolume,
				MakerFee:  t.MakerFee,
				TakerFee:  t.TakerFee,
				Currency:  t.Currency,
			}
		}
		venues[name] = fees.VenueFees{
			DefaultMaker: vf.DefaultMaker,
			DefaultTaker: vf.DefaultTaker,
			Tiers:        tiers,
		}
	}
	return fees.Config{
		Venues:           venues,
		MinProfit:        cfg.Fees.MinProfit,
		DefaultMinProfit: cfg.Fees.DefaultMinProfit,
	}
}

// archiveRetention returns the configured retention, defaulting to 90 days.
func archiveRetention(cfg *config.Config) time.Duration {
	if cfg.S3.ArchiveRetention.Duration > 0 {
		return cfg.S3.ArchiveRetention.Duration
	}
	return 90 * 24 * time.Hour
}
