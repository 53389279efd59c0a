package coordinator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagelabs/crossarb/internal/book"
	"github.com/vantagelabs/crossarb/internal/domain"
	"github.com/vantagelabs/crossarb/internal/execution"
	"github.com/vantagelabs/crossarb/internal/fees"
	"github.com/vantagelabs/crossarb/internal/platform/paper"
	"github.com/vantagelabs/crossarb/internal/risk"
	"github.com/vantagelabs/crossarb/internal/signal"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingObserver struct {
	mu         sync.Mutex
	trades     map[string]int
	rejections map[string]int
	naked      int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{trades: map[string]int{}, rejections: map[string]int{}}
}

func (o *recordingObserver) RecordTrade(_, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trades[outcome]++
}

func (o *recordingObserver) RecordRejection(_, stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejections[stage]++
}

func (o *recordingObserver) RecordNakedExposure() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.naked++
}

func (o *recordingObserver) SetCumulativePnL(float64)               {}
func (o *recordingObserver) SetSpreadZ(string, float64)             {}
func (o *recordingObserver) RecordExecutionLatency(string, float64) {}

func (o *recordingObserver) rejected(stage string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rejections[stage]
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

// pipeline bundles a fully wired paper-trading stack for tests.
type pipeline struct {
	clock    *fakeClock
	store    *book.Store
	coord    *Coordinator
	observer *recordingObserver
	alerter  *recordingAlerter
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(t *testing.T, takerFee float64, riskCfg risk.Config) *pipeline {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	logger := discard()

	store := book.NewStore(book.WithClock(clock))
	adapter := paper.New(store, logger)

	execCfg := execution.DefaultConfig()
	execCfg.MinChunkSize = 0.01
	eng := execution.New(execCfg, adapter, logger, execution.WithClock(clock))

	sigCfg := signal.DefaultConfig()
	sigCfg.Windows = []time.Duration{60 * time.Second}
	sigEngine := signal.NewEngine(sigCfg, logger)

	feeSchedule := fees.NewSchedule(fees.Config{
		Venues: map[string]fees.VenueFees{
			"binance": {DefaultMaker: takerFee, DefaultTaker: takerFee},
			"kraken":  {DefaultMaker: takerFee, DefaultTaker: takerFee},
		},
		DefaultMinProfit: 0.5,
	}, logger)

	observer := newRecordingObserver()
	alerter := &recordingAlerter{}

	cfg := DefaultConfig()
	cfg.Symbols = []string{"BTCUSDT"}
	cfg.VenueA = "binance"
	cfg.VenueB = "kraken"

	coord := New(cfg, store, sigEngine, feeSchedule, risk.New(risk.VariantBasic, riskCfg), eng, logger,
		WithObserver(observer),
		WithAlerter(alerter),
		WithClock(clock))

	return &pipeline{clock: clock, store: store, coord: coord, observer: observer, alerter: alerter}
}

func testRiskConfig() risk.Config {
	return risk.Config{
		DefaultMaxNotional: 1e6,
		MaxTotalNotional:   1e7,
		MaxDrawdown:        -1e6,
		StopSpreadAmount:   50,
		ExitZThreshold:     0.3,
		DefaultBaseSize:    0.5,
	}
}

func (p *pipeline) setBooks(t *testing.T, bidA, askA, bidB, askB float64) {
	t.Helper()
	now := p.clock.Now()
	for _, u := range []struct {
		venue      string
		side       domain.Side
		price, qty float64
	}{
		{"binance", domain.SideBuy, bidA, 10},
		{"binance", domain.SideSell, askA, 10},
		{"kraken", domain.SideBuy, bidB, 10},
		{"kraken", domain.SideSell, askB, 10},
	} {
		err := p.store.ApplyUpdate(domain.BookUpdate{
			Venue:     u.venue,
			Symbol:    "BTCUSDT",
			Side:      u.side,
			Price:     decimal.NewFromFloat(u.price),
			Quantity:  decimal.NewFromFloat(u.qty),
			Timestamp: now,
		})
		require.NoError(t, err)
	}
}

// warm feeds a steady spread so the z-score has history, without triggering.
func (p *pipeline) warm(t *testing.T, cycles int) {
	t.Helper()
	for i := 0; i < cycles; i++ {
		p.setBooks(t, 30009+float64(i%2), 30011, 29999, 30001)
		p.coord.Sweep(context.Background(), []string{"BTCUSDT"})
		p.clock.Advance(time.Second)
	}
}

func TestPipelineExecutesProfitableDislocation(t *testing.T) {
	p := newPipeline(t, 0, testRiskConfig())

	p.warm(t, 30)
	require.Equal(t, 0, p.coord.Status().TradeCount, "no trades during warmup")

	// Venue A dislocates upward: z spikes positive, sell A / buy B is
	// profitable before and after fees.
	p.setBooks(t, 30060, 30062, 29999, 30001)
	p.coord.Sweep(context.Background(), []string{"BTCUSDT"})

	status := p.coord.Status()
	require.Equal(t, 1, status.TradeCount)
	assert.Greater(t, status.CumulativePnL, 0.0)
	assert.Equal(t, 1, status.WinCount)

	trades := p.coord.RecentTrades(10)
	require.Len(t, trades, 1)
	assert.Equal(t, "binance", trades[0].SellVenue)
	assert.Equal(t, "kraken", trades[0].BuyVenue)
	assert.Greater(t, trades[0].SellPrice, trades[0].BuyPrice)

	board := p.coord.Leaderboard()
	require.Len(t, board, 1)
	assert.Equal(t, 1, board[0].Trades)
	assert.Equal(t, 1.0, board[0].WinRate)
}

func TestPipelineCooldownBlocksImmediateReentry(t *testing.T) {
	p := newPipeline(t, 0, testRiskConfig())
	p.warm(t, 30)

	p.setBooks(t, 30060, 30062, 29999, 30001)
	p.coord.Sweep(context.Background(), []string{"BTCUSDT"})
	require.Equal(t, 1, p.coord.Status().TradeCount)

	// Same dislocation one second later: still inside the 30s cooldown.
	p.clock.Advance(time.Second)
	p.setBooks(t, 30060, 30062, 29999, 30001)
	p.coord.Sweep(context.Background(), []string{"BTCUSDT"})
	assert.Equal(t, 1, p.coord.Status().TradeCount)
}

func TestPipelineRejectsFeeBlindArbitrage(t *testing.T) {
	// 0.1% taker on both legs swallows a small raw gap.
	p := newPipeline(t, 0.001, testRiskConfig())
	p.warm(t, 30)

	// Sell A at 30010 vs buy B at 30001: raw gap 9, fees ~60.
	p.setBooks(t, 30010, 30062, 29999, 30001)
	// Force a spike in the spread measure so the signal qualifies.
	p.setBooks(t, 30010, 30080, 29999, 30001)
	p.coord.Sweep(context.Background(), []string{"BTCUSDT"})

	assert.Equal(t, 0, p.coord.Status().TradeCount)
	assert.GreaterOrEqual(t, p.observer.rejected("unprofitable"), 1)
}

func TestPipelineSkipsStaleBooks(t *testing.T) {
	p := newPipeline(t, 0, testRiskConfig())
	p.setBooks(t, 30009, 30011, 29999, 30001)

	// Past the 5s staleness limit both venues read as missing.
	p.clock.Advance(10 * time.Second)
	p.coord.Sweep(context.Background(), []string{"BTCUSDT"})

	assert.GreaterOrEqual(t, p.observer.rejected("stale_data"), 1)
	assert.Equal(t, 0, p.coord.Status().TradeCount)
}

func TestPipelineDryRunPlacesNoOrders(t *testing.T) {
	p := newPipeline(t, 0, testRiskConfig())
	p.coord.cfg.DryRun = true
	p.warm(t, 30)

	p.setBooks(t, 30060, 30062, 29999, 30001)
	p.coord.Sweep(context.Background(), []string{"BTCUSDT"})

	assert.Equal(t, 0, p.coord.Status().TradeCount)
}

func TestNakedExposureAlertsOnFailedUnwind(t *testing.T) {
	p := newPipeline(t, 0, testRiskConfig())
	p.warm(t, 30)

	// Dislocate, then starve the ask side of both venues. The sell leg
	// fills into binance's bids, the buy leg fails on kraken's near-empty
	// asks, and the unwind re-buy fails on binance's near-empty asks.
	p.setBooks(t, 30060, 30062, 29999, 30001)
	now := p.clock.Now()
	for _, u := range []struct {
		venue      string
		price, qty float64
	}{
		{"binance", 30011, 0},    // drop the resting warmup ask
		{"binance", 30062, 0.01}, // unwind depth far below half the trade size
		{"kraken", 30001, 0.001}, // buy-leg depth far below half the trade size
	} {
		require.NoError(t, p.store.ApplyUpdate(domain.BookUpdate{
			Venue: u.venue, Symbol: "BTCUSDT", Side: domain.SideSell,
			Price: decimal.NewFromFloat(u.price), Quantity: decimal.NewFromFloat(u.qty), Timestamp: now,
		}))
	}

	p.coord.Sweep(context.Background(), []string{"BTCUSDT"})

	status := p.coord.Status()
	assert.Equal(t, 0, status.TradeCount)
	if assert.Equal(t, 1, status.NakedExposures) {
		p.alerter.mu.Lock()
		defer p.alerter.mu.Unlock()
		require.Len(t, p.alerter.events, 1)
		assert.Equal(t, "naked_exposure", p.alerter.events[0])
	}
}
