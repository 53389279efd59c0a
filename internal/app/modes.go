package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vantagelabs/crossarb/internal/coordinator"
	"github.com/vantagelabs/crossarb/internal/crypto"
	"github.com/vantagelabs/crossarb/internal/domain"
	"github.com/vantagelabs/crossarb/internal/execution"
	"github.com/vantagelabs/crossarb/internal/feed"
	"github.com/vantagelabs/crossarb/internal/notify"
	"github.com/vantagelabs/crossarb/internal/platform"
	"github.com/vantagelabs/crossarb/internal/platform/binance"
	"github.com/vantagelabs/crossarb/internal/platform/kraken"
	"github.com/vantagelabs/crossarb/internal/platform/paper"
	"github.com/vantagelabs/crossarb/internal/server"
	"github.com/vantagelabs/crossarb/internal/server/handler"
	"github.com/vantagelabs/crossarb/internal/server/ws"
)

// leaderLockTTL is the lease a live trader holds on its account. A crashed
// process leaves the lock to expire, after which a replacement may start.
const leaderLockTTL = time.Hour

// PaperMode runs the full pipeline against live market data, filling orders
// from the in-memory books instead of sending them to the venues.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.Any("symbols", a.cfg.Symbols))

	adapter := paper.New(deps.Books, a.logger)
	return a.runPipeline(ctx, deps, adapter, a.cfg.Engine.DryRun)
}

// LiveMode runs the full pipeline with real order placement. A Redis leader
// lock keeps a second live trader from running against the same account.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode",
		slog.Any("symbols", a.cfg.Symbols),
		slog.Bool("dry_run", a.cfg.Engine.DryRun))

	unlock, err := deps.LockManager.Acquire(ctx, "live-trader", leaderLockTTL)
	if err != nil {
		return fmt.Errorf("live mode: acquire leader lock: %w", err)
	}
	defer unlock()

	a.logger.InfoContext(ctx, "venue credentials loaded",
		slog.String("binance_key", crypto.Redact(a.cfg.Binance.APIKey)),
		slog.String("kraken_key", crypto.Redact(a.cfg.Kraken.APIKey)))

	router := platform.NewRouter()
	router.Register("binance", binance.New(binance.Config{
		BaseURL:         a.cfg.Binance.RestURL,
		APIKey:          a.cfg.Binance.APIKey,
		SecretKey:       a.cfg.Binance.SecretKey,
		OrderRateLimit:  a.cfg.Binance.OrderRateLimit,
		OrderRateWindow: a.cfg.Binance.OrderRateWindow.Duration,
	}, deps.RateLimiter, a.logger))
	router.Register("kraken", kraken.New(kraken.Config{
		BaseURL:         a.cfg.Kraken.RestURL,
		APIKey:          a.cfg.Kraken.APIKey,
		SecretKey:       a.cfg.Kraken.SecretKey,
		Pairs:           a.cfg.Kraken.Pairs,
		OrderRateLimit:  a.cfg.Kraken.OrderRateLimit,
		OrderRateWindow: a.cfg.Kraken.OrderRateWindow.Duration,
	}, deps.RateLimiter, a.logger))

	return a.runPipeline(ctx, deps, router, a.cfg.Engine.DryRun)
}

// MonitorMode runs the full evaluation pipeline read-only: feeds, signals,
// fees, and risk all operate, but the coordinator never places orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Any("symbols", a.cfg.Symbols))

	adapter := paper.New(deps.Books, a.logger)
	return a.runPipeline(ctx, deps, adapter, true)
}

// ServerMode serves the HTTP API over whatever Redis and Postgres already
// hold, without consuming feeds or evaluating trades. Useful for dashboards
// pointed at a trader running elsewhere.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	// An idle coordinator backs the status endpoints with zeroed run state.
	coord := a.buildCoordinator(deps, paper.New(deps.Books, a.logger), true)
	a.startHTTPServer(ctx, g, deps, coord)

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.S3.ArchiveInterval.Duration, archiveRetention(a.cfg))
		})
	}

	return g.Wait()
}

// runPipeline starts feeds, the book feeder, the coordinator, and the
// optional HTTP server and archiver, and blocks until the context ends.
func (a *App) runPipeline(ctx context.Context, deps *Dependencies, adapter domain.OrderAdapter, dryRun bool) error {
	g, ctx := errgroup.WithContext(ctx)

	feeder := feed.NewBookFeeder(deps.Books, deps.SnapshotCache, deps.EventBus, 0, a.logger)
	g.Go(func() error {
		return feeder.Run(ctx)
	})

	a.startFeeds(ctx, g, deps, feeder)

	coord := a.buildCoordinator(deps, adapter, dryRun)
	g.Go(func() error {
		return coord.Run(ctx, feeder.Ticks())
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, coord)
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.S3.ArchiveInterval.Duration, archiveRetention(a.cfg))
		})
	}

	return g.Wait()
}

// buildCoordinator assembles the control loop over the shared pipeline
// stages, attaching persistence, events, alerts, and metrics when wired.
func (a *App) buildCoordinator(deps *Dependencies, adapter domain.OrderAdapter, dryRun bool) *coordinator.Coordinator {
	exec := execution.New(execution.Config{
		MaxImpact:         a.cfg.Execution.MaxImpact,
		MinLiquidityScore: a.cfg.Execution.MinLiquidityScore,
		IcebergThreshold:  a.cfg.Execution.IcebergThreshold,
		ChunkFraction:     a.cfg.Execution.ChunkFraction,
		DepthFraction:     a.cfg.Execution.DepthFraction,
		MinChunkSize:      a.cfg.Execution.MinChunkSize,
		MinFillRatio:      a.cfg.Execution.MinFillRatio,
		MaxRetries:        a.cfg.Execution.MaxRetries,
		ReportBuffer:      a.cfg.Execution.ReportBuffer,
	}, adapter, a.logger)

	opts := []coordinator.Option{
		coordinator.WithEventBus(deps.EventBus),
		coordinator.WithAlerter(deps.Notifier),
		coordinator.WithObserver(deps.Metrics),
	}
	if deps.TradeStore != nil {
		opts = append(opts, coordinator.WithTradeStore(deps.TradeStore))
	}

	return coordinator.New(coordinator.Config{
		Symbols:      a.cfg.Symbols,
		VenueA:       a.cfg.Engine.VenueA,
		VenueB:       a.cfg.Engine.VenueB,
		Cooldown:     a.cfg.Engine.Cooldown.Duration,
		EvalInterval: a.cfg.Engine.EvalInterval.Duration,
		Workers:      a.cfg.Engine.Workers,
		TradeHistory: a.cfg.Engine.TradeHistory,
		DryRun:       dryRun,
	}, deps.Books, deps.Signals, deps.Fees, deps.Risk, exec, a.logger, opts...)
}

// startFeeds launches both venue WebSocket consumers, pushing every decoded
// update through the feeder. A feed that dies for any reason other than
// shutdown raises a feed_down alert before taking the group down.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies, feeder *feed.BookFeeder) {
	handle := func(u domain.BookUpdate) {
		deps.Metrics.RecordBookUpdate(u.Venue)
		feeder.Handle(u)
	}

	// Binance's diff stream never opens with a snapshot, so each (re)connect
	// rebuilds the book from REST depth. Kraken snapshots over the socket.
	feeds := []*feed.VenueFeed{
		feed.NewVenueFeed(a.cfg.Binance.WSURL, a.cfg.Symbols, feed.NewBinanceDecoder(a.cfg.Symbols), handle, a.logger,
			feed.WithSnapshot(feed.NewBinanceSnapshot(a.cfg.Binance.RestURL, a.cfg.Symbols, nil))),
		feed.NewVenueFeed(a.cfg.Kraken.WSURL, a.cfg.Symbols, feed.NewKrakenDecoder(a.cfg.Kraken.Pairs), handle, a.logger),
	}
	for _, vf := range feeds {
		g.Go(func() error {
			err := vf.Run(ctx)
			if err != nil && ctx.Err() == nil {
				_ = deps.Notifier.Notify(context.WithoutCancel(ctx), notify.EventFeedDown,
					"Market data feed down",
					fmt.Sprintf("feed stopped: %v", err))
			}
			return err
		})
	}
}

// startHTTPServer adds the API server and WebSocket hub goroutines to the
// given errgroup. The server shuts down gracefully on context cancellation.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, coord *coordinator.Coordinator) {
	hub := ws.NewHub(deps.EventBus, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var trades handler.TradeSource = coordTrades{coord}
	if deps.TradeStore != nil {
		trades = deps.TradeStore
	}

	var limiter domain.RateLimiter
	if a.cfg.Server.RateLimit > 0 {
		limiter = deps.RateLimiter
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(coord, a.logger),
		Market: handler.NewMarketHandler(deps.SnapshotCache, a.cfg.Engine.VenueA, a.cfg.Engine.VenueB, a.logger),
		Trades: handler.NewTradeHandler(trades, a.logger),
	}, hub, limiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.Info("HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// coordTrades adapts the coordinator's in-memory trade history to the trade
// handler when no database is wired.
type coordTrades struct {
	coord *coordinator.Coordinator
}

func (t coordTrades) Recent(_ context.Context, limit int) ([]domain.TradeRecord, error) {
	return t.coord.RecentTrades(limit), nil
}
