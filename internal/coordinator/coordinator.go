// Package coordinator runs the control loop: it turns book state into spread
// signals, gates them through fees and risk, and executes both legs of each
// accepted trade.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vantagelabs/crossarb/internal/book"
	"github.com/vantagelabs/crossarb/internal/domain"
	"github.com/vantagelabs/crossarb/internal/execution"
	"github.com/vantagelabs/crossarb/internal/fees"
	"github.com/vantagelabs/crossarb/internal/risk"
	"github.com/vantagelabs/crossarb/internal/signal"
)

// Config tunes the control loop.
type Config struct {
	Symbols []string
	// VenueA is the spread's ask side, VenueB its bid side:
	// spread = VenueA ask - VenueB bid.
	VenueA string
	VenueB string
	// Cooldown per symbol after a trade, exit, or execution failure.
	Cooldown time.Duration
	// EvalInterval forces a full evaluation sweep even without ticks.
	EvalInterval time.Duration
	// Workers bounds concurrent symbol evaluations.
	Workers int
	// TradeHistory bounds the in-memory trade list.
	TradeHistory int
	// DryRun evaluates the full pipeline but places no orders.
	DryRun bool
}

// DefaultConfig returns the tuning the strategy runs with in paper mode.
func DefaultConfig() Config {
	return Config{
		Cooldown:     30 * time.Second,
		EvalInterval: 500 * time.Millisecond,
		Workers:      4,
		TradeHistory: 1000,
	}
}

// Observer receives pipeline telemetry. *metrics.Recorder satisfies it.
type Observer interface {
	RecordTrade(symbol, outcome string)
	RecordRejection(symbol, stage string)
	RecordNakedExposure()
	SetCumulativePnL(pnl float64)
	SetSpreadZ(symbol string, z float64)
	RecordExecutionLatency(venue string, seconds float64)
}

type nopObserver struct{}

func (nopObserver) RecordTrade(string, string)             {}
func (nopObserver) RecordRejection(string, string)         {}
func (nopObserver) RecordNakedExposure()                   {}
func (nopObserver) SetCumulativePnL(float64)               {}
func (nopObserver) SetSpreadZ(string, float64)             {}
func (nopObserver) RecordExecutionLatency(string, float64) {}

// Alerter delivers human-actionable events. notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SymbolStats is one leaderboard row.
type SymbolStats struct {
	Symbol   string  `json:"symbol"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	WinRate  float64 `json:"win_rate"`
	TotalPnL float64 `json:"total_pnl"`
}

// Status is the run snapshot served by the HTTP API.
type Status struct {
	Halted         bool      `json:"halted"`
	CumulativePnL  float64   `json:"cumulative_pnl"`
	TradeCount     int       `json:"trade_count"`
	WinCount       int       `json:"win_count"`
	WinRate        float64   `json:"win_rate"`
	NakedExposures int       `json:"naked_exposures"`
	OpenPositions  int       `json:"open_positions"`
	TotalExposure  float64   `json:"total_exposure"`
	LastEval       time.Time `json:"last_eval"`
}

// Coordinator owns all run state. Evaluation fans out across a bounded
// worker pool; results merge back serially under the coordinator's lock.
type Coordinator struct {
	cfg      Config
	books    *book.Store
	signals  *signal.Engine
	fees     *fees.Schedule
	risk     risk.Policy
	exec     *execution.Engine
	store    domain.TradeStore
	bus      domain.EventBus
	alerter  Alerter
	observer Observer
	clock    domain.Clock
	logger   *slog.Logger

	mu        sync.Mutex
	cooldowns map[string]time.Time
	trades    []domain.TradeRecord
	perSymbol map[string]*SymbolStats
	naked     int
	lastEval  time.Time
}

// Option configures optional collaborators.
type Option func(*Coordinator)

// WithTradeStore persists completed trades.
func WithTradeStore(s domain.TradeStore) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithEventBus publishes trade events.
func WithEventBus(b domain.EventBus) Option {
	return func(c *Coordinator) { c.bus = b }
}

// WithAlerter routes fatal events to operators.
func WithAlerter(a Alerter) Option {
	return func(c *Coordinator) { c.alerter = a }
}

// WithObserver attaches metrics.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithClock overrides time, for tests.
func WithClock(clk domain.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// New wires a coordinator over the core pipeline stages.
func New(cfg Config, books *book.Store, signals *signal.Engine, feeSchedule *fees.Schedule, riskPolicy risk.Policy, exec *execution.Engine, logger *slog.Logger, opts ...Option) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.TradeHistory <= 0 {
		cfg.TradeHistory = DefaultConfig().TradeHistory
	}
	c := &Coordinator{
		cfg:       cfg,
		books:     books,
		signals:   signals,
		fees:      feeSchedule,
		risk:      riskPolicy,
		exec:      exec,
		observer:  nopObserver{},
		clock:     domain.RealClock{},
		logger:    logger.With(slog.String("component", "coordinator")),
		cooldowns: make(map[string]time.Time),
		perSymbol: make(map[string]*SymbolStats),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run evaluates symbols on every tick and at least every EvalInterval, until
// ctx is cancelled. ticks may be nil.
func (c *Coordinator) Run(ctx context.Context, ticks <-chan string) error {
	c.logger.Info("coordinator started",
		slog.Any("symbols", c.cfg.Symbols),
		slog.String("venue_a", c.cfg.VenueA),
		slog.String("venue_b", c.cfg.VenueB),
		slog.Bool("dry_run", c.cfg.DryRun))
	defer c.logger.Info("coordinator stopped")

	interval := c.cfg.EvalInterval
	if interval <= 0 {
		interval = DefaultConfig().EvalInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pending := make(map[string]struct{}, len(c.cfg.Symbols))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sym := <-ticks:
			// Coalesce: the same symbol ticking twice evaluates once.
			pending[sym] = struct{}{}
			continue
		case <-ticker.C:
			for _, sym := range c.cfg.Symbols {
				pending[sym] = struct{}{}
			}
		}
		if len(pending) == 0 {
			continue
		}
		c.sweep(ctx, pending)
		pending = make(map[string]struct{}, len(c.cfg.Symbols))
	}
}

// Sweep evaluates the given symbols through the worker pool. Exported for
// deterministic driving in tests and by the monitor mode.
func (c *Coordinator) Sweep(ctx context.Context, symbols []string) {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	c.sweep(ctx, set)
}

func (c *Coordinator) sweep(ctx context.Context, pending map[string]struct{}) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	results := make(chan *tradeOutcome, len(pending))
	for sym := range pending {
		g.Go(func() error {
			if out := c.evaluate(gctx, sym); out != nil {
				results <- out
			}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for out := range results {
		c.apply(ctx, out)
	}
	c.mu.Lock()
	c.lastEval = c.clock.Now()
	c.mu.Unlock()
}

// tradeOutcome is the result of one accepted, executed candidate, merged
// serially into coordinator state.
type tradeOutcome struct {
	record domain.TradeRecord
	win    bool
}

func (c *Coordinator) evaluate(ctx context.Context, symbol string) *tradeOutcome {
	now := c.clock.Now()
	if c.inCooldown(symbol, now) {
		return nil
	}

	topA, okA := c.books.TopOfBook(c.cfg.VenueA, symbol)
	topB, okB := c.books.TopOfBook(c.cfg.VenueB, symbol)
	if !okA || !okB {
		c.observer.RecordRejection(symbol, "stale_data")
		return nil
	}
	if topA.Crossed() || topB.Crossed() {
		c.observer.RecordRejection(symbol, "crossed_book")
		c.logger.Warn("crossed book, skipping",
			slog.String("symbol", symbol),
			slog.Bool("venue_a", topA.Crossed()),
			slog.Bool("venue_b", topB.Crossed()))
		return nil
	}

	c.risk.ObservePrice(symbol, (topA.Mid()+topB.Mid())/2, now)

	spread := topA.Ask - topB.Bid
	volume := (topA.AskQty + topB.BidQty) / 2
	readings := c.signals.Update(symbol, spread, volume, now)

	// Open logical positions resolve before any new entry.
	if c.risk.Entered(symbol) {
		if c.risk.CheckStopLoss(symbol, spread) {
			c.logger.Warn("stop loss triggered",
				slog.String("symbol", symbol),
				slog.Float64("spread", spread))
			c.stampCooldown(symbol, now)
			return nil
		}
		if c.risk.CheckExit(symbol, signal.ShortestWindowZ(readings)) {
			c.logger.Info("mean reversion exit",
				slog.String("symbol", symbol),
				slog.Float64("spread", spread))
			c.stampCooldown(symbol, now)
			return nil
		}
		return nil
	}

	reading, ok := signal.Select(readings)
	if !ok {
		return nil
	}
	c.observer.SetSpreadZ(symbol, reading.ZScore)

	dir := reading.Direction()
	var sellVenue, buyVenue string
	var sellPrice, buyPrice float64
	if dir == domain.DirectionShortSpread {
		// Spread rich: venue A trades high, sell there and buy on B.
		sellVenue, sellPrice = c.cfg.VenueA, topA.Bid
		buyVenue, buyPrice = c.cfg.VenueB, topB.Ask
	} else {
		sellVenue, sellPrice = c.cfg.VenueB, topB.Bid
		buyVenue, buyPrice = c.cfg.VenueA, topA.Ask
	}

	netProfit, profitable := c.fees.Profitable(symbol, buyVenue, buyPrice, sellVenue, sellPrice)
	if !profitable {
		c.observer.RecordRejection(symbol, "unprofitable")
		return nil
	}

	size := c.risk.Size(symbol, reading.Strength, buyPrice)
	if size <= 0 {
		c.observer.RecordRejection(symbol, "zero_size")
		return nil
	}
	if err := c.risk.CanEnter(symbol, size*buyPrice); err != nil {
		stage := "risk"
		if errors.Is(err, domain.ErrDrawdownHalt) {
			stage = "halted"
		}
		c.observer.RecordRejection(symbol, stage)
		c.logger.Debug("risk rejected candidate",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
		return nil
	}

	if c.cfg.DryRun {
		c.logger.Info("dry run candidate accepted",
			slog.String("symbol", symbol),
			slog.Float64("z", reading.ZScore),
			slog.Float64("net_profit", netProfit),
			slog.Float64("size", size))
		c.stampCooldown(symbol, now)
		return nil
	}

	return c.executePair(ctx, symbol, sellVenue, buyVenue, spread, dir, size, reading)
}

// executePair runs the sell leg then the buy leg. A failed second leg is
// unwound best-effort; a failed unwind is the one fatal event in the system.
func (c *Coordinator) executePair(ctx context.Context, symbol, sellVenue, buyVenue string, spread float64, dir domain.Direction, size float64, reading domain.SignalReading) *tradeOutcome {
	now := c.clock.Now()

	sellSnap, ok := c.books.Snapshot(sellVenue, symbol)
	if !ok {
		c.observer.RecordRejection(symbol, "stale_data")
		return nil
	}
	sellReport, err := c.exec.Execute(ctx, sellSnap, domain.SideSell, size)
	c.observer.RecordExecutionLatency(sellVenue, sellReport.Latency.Seconds())
	if err != nil {
		c.observer.RecordRejection(symbol, "execution")
		c.logger.Warn("sell leg failed",
			slog.String("symbol", symbol),
			slog.String("venue", sellVenue),
			slog.String("error", err.Error()))
		c.stampCooldown(symbol, now)
		return nil
	}

	amount := sellReport.FilledAmount
	buySnap, ok := c.books.Snapshot(buyVenue, symbol)
	var buyReport domain.ExecutionReport
	if ok {
		buyReport, err = c.exec.Execute(ctx, buySnap, domain.SideBuy, amount)
		c.observer.RecordExecutionLatency(buyVenue, buyReport.Latency.Seconds())
	} else {
		err = fmt.Errorf("%s %s: %w", buyVenue, symbol, domain.ErrDataUnavailable)
	}
	if err != nil {
		c.unwindSellLeg(ctx, symbol, sellVenue, amount, err)
		c.stampCooldown(symbol, now)
		return nil
	}

	filled := buyReport.FilledAmount
	sellEff := c.fees.EffectivePrice(sellReport.AveragePrice, sellVenue, false, false)
	buyEff := c.fees.EffectivePrice(buyReport.AveragePrice, buyVenue, true, false)
	pnl := (sellEff - buyEff) * filled
	feesPaid := c.fees.EstimateFees(sellVenue, filled, sellReport.AveragePrice, false) +
		c.fees.EstimateFees(buyVenue, filled, buyReport.AveragePrice, false)

	c.fees.AddVolume(sellVenue, filled*sellReport.AveragePrice, now)
	c.fees.AddVolume(buyVenue, filled*buyReport.AveragePrice, now)

	c.risk.RegisterFill(symbol, filled, buyReport.AveragePrice, 0, now)
	c.risk.RegisterFill(symbol, -filled, sellReport.AveragePrice, pnl, now)
	c.risk.RegisterEntry(symbol, spread, dir, now)
	c.stampCooldown(symbol, now)

	record := domain.TradeRecord{
		ID:        uuid.NewString(),
		Timestamp: now,
		Symbol:    symbol,
		BuyVenue:  buyVenue,
		BuyPrice:  buyReport.AveragePrice,
		SellVenue: sellVenue,
		SellPrice: sellReport.AveragePrice,
		Amount:    filled,
		Fees:      feesPaid,
		PnL:       pnl,
	}
	c.logger.Info("trade executed",
		slog.String("trade_id", record.ID),
		slog.String("symbol", symbol),
		slog.Float64("z", reading.ZScore),
		slog.Float64("amount", filled),
		slog.Float64("pnl", pnl))
	return &tradeOutcome{record: record, win: pnl > 0}
}

// unwindSellLeg buys back the amount sold when the buy leg fails. If the
// unwind itself fails the book is left one-sided: naked exposure, the only
// event the system treats as fatal and human-actionable.
func (c *Coordinator) unwindSellLeg(ctx context.Context, symbol, sellVenue string, amount float64, legErr error) {
	c.logger.Warn("buy leg failed, unwinding sell leg",
		slog.String("symbol", symbol),
		slog.String("venue", sellVenue),
		slog.Float64("amount", amount),
		slog.String("error", legErr.Error()))

	snap, ok := c.books.Snapshot(sellVenue, symbol)
	var err error
	if ok {
		_, err = c.exec.Execute(ctx, snap, domain.SideBuy, amount)
	} else {
		err = fmt.Errorf("%s %s: %w", sellVenue, symbol, domain.ErrDataUnavailable)
	}
	if err == nil {
		c.observer.RecordRejection(symbol, "execution")
		return
	}

	c.mu.Lock()
	c.naked++
	c.mu.Unlock()
	c.observer.RecordNakedExposure()
	c.logger.Error("unwind failed, naked exposure",
		slog.String("symbol", symbol),
		slog.String("venue", sellVenue),
		slog.Float64("amount", amount),
		slog.String("error", err.Error()))
	if c.alerter != nil {
		msg := fmt.Sprintf("unwind of %s %.6f on %s failed: %v; manual intervention required",
			symbol, amount, sellVenue, err)
		if nerr := c.alerter.Notify(ctx, "naked_exposure", "NAKED EXPOSURE", msg); nerr != nil {
			c.logger.Error("naked exposure alert failed", slog.String("error", nerr.Error()))
		}
	}
}

// apply merges one executed trade into coordinator-owned state.
func (c *Coordinator) apply(ctx context.Context, out *tradeOutcome) {
	c.mu.Lock()
	cum := 0.0
	if n := len(c.trades); n > 0 {
		cum = c.trades[n-1].CumulativePnL
	}
	out.record.CumulativePnL = cum + out.record.PnL
	c.trades = append(c.trades, out.record)
	if overflow := len(c.trades) - c.cfg.TradeHistory; overflow > 0 {
		c.trades = append([]domain.TradeRecord(nil), c.trades[overflow:]...)
	}
	stats, ok := c.perSymbol[out.record.Symbol]
	if !ok {
		stats = &SymbolStats{Symbol: out.record.Symbol}
		c.perSymbol[out.record.Symbol] = stats
	}
	stats.Trades++
	if out.win {
		stats.Wins++
	}
	stats.TotalPnL += out.record.PnL
	stats.WinRate = float64(stats.Wins) / float64(stats.Trades)
	cumulative := out.record.CumulativePnL
	c.mu.Unlock()

	outcome := "loss"
	if out.win {
		outcome = "win"
	}
	c.observer.RecordTrade(out.record.Symbol, outcome)
	c.observer.SetCumulativePnL(cumulative)

	if c.store != nil {
		if err := c.store.Insert(ctx, out.record); err != nil {
			c.logger.Warn("trade persist failed",
				slog.String("trade_id", out.record.ID),
				slog.String("error", err.Error()))
		}
	}
	if c.bus != nil {
		if payload, err := json.Marshal(out.record); err == nil {
			if err := c.bus.Publish(ctx, "trades", payload); err != nil {
				c.logger.Debug("trade publish failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Coordinator) inCooldown(symbol string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.cooldowns[symbol]
	return ok && now.Before(until)
}

func (c *Coordinator) stampCooldown(symbol string, now time.Time) {
	if c.cfg.Cooldown <= 0 {
		return
	}
	c.mu.Lock()
	c.cooldowns[symbol] = now.Add(c.cfg.Cooldown)
	c.mu.Unlock()
}

// RecentTrades returns up to limit trades, newest first.
func (c *Coordinator) RecentTrades(limit int) []domain.TradeRecord {
	if limit <= 0 {
		limit = 50
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.trades)
	if limit > n {
		limit = n
	}
	out := make([]domain.TradeRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, c.trades[i])
	}
	return out
}

// Leaderboard returns per-symbol stats sorted by total PnL descending.
func (c *Coordinator) Leaderboard() []SymbolStats {
	c.mu.Lock()
	out := make([]SymbolStats, 0, len(c.perSymbol))
	for _, s := range c.perSymbol {
		out = append(out, *s)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TotalPnL > out[j].TotalPnL })
	return out
}

// Status returns the run snapshot.
func (c *Coordinator) Status() Status {
	rm := c.risk.Metrics()
	c.mu.Lock()
	defer c.mu.Unlock()
	trades, wins := 0, 0
	for _, s := range c.perSymbol {
		trades += s.Trades
		wins += s.Wins
	}
	winRate := 0.0
	if trades > 0 {
		winRate = float64(wins) / float64(trades)
	}
	return Status{
		Halted:         rm.Halted,
		CumulativePnL:  rm.CumulativePnL,
		TradeCount:     trades,
		WinCount:       wins,
		WinRate:        winRate,
		NakedExposures: c.naked,
		OpenPositions:  rm.OpenPositions,
		TotalExposure:  rm.TotalExposure,
		LastEval:       c.lastEval,
	}
}
