// Package execution places orders against a venue through impact-aware
// iceberg slicing with per-chunk fill verification.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/vantagelabs/crossarb/internal/domain"
)

// Config tunes pre-trade checks and iceberg slicing.
type Config struct {
	// MaxImpact is the highest tolerated fractional price impact.
	MaxImpact float64
	// MinLiquidityScore rejects books too thin for the requested amount.
	MinLiquidityScore float64
	// IcebergThreshold is the parent amount at which slicing kicks in;
	// smaller parents go out as a single order.
	IcebergThreshold float64
	// ChunkFraction of the parent amount per iceberg chunk.
	ChunkFraction float64
	// DepthFraction of total side depth bounding each chunk.
	DepthFraction float64
	// MinChunkSize floors the chunk so dust orders are never placed.
	MinChunkSize float64
	// MinFillRatio below which a chunk is cancelled and retried.
	MinFillRatio float64
	// MaxRetries per chunk before the whole execution aborts.
	MaxRetries int
	// ReportBuffer bounds the in-memory execution report history.
	ReportBuffer int
}

// DefaultConfig mirrors the tuning the strategy was calibrated with.
func DefaultConfig() Config {
	return Config{
		MaxImpact:         0.002,
		MinLiquidityScore: 0.5,
		IcebergThreshold:  1.0,
		ChunkFraction:     0.20,
		DepthFraction:     0.10,
		MinChunkSize:      0.1,
		MinFillRatio:      0.8,
		MaxRetries:        3,
		ReportBuffer:      1000,
	}
}

// Engine executes parent orders as sequences of child limit orders.
type Engine struct {
	cfg     Config
	adapter domain.OrderAdapter
	clock   domain.Clock
	logger  *slog.Logger

	mu      sync.Mutex
	reports []domain.ExecutionReport
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock, for tests.
func WithClock(c domain.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New builds an Engine submitting through the given adapter.
func New(cfg Config, adapter domain.OrderAdapter, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.ReportBuffer <= 0 {
		cfg.ReportBuffer = DefaultConfig().ReportBuffer
	}
	if cfg.IcebergThreshold <= 0 {
		cfg.IcebergThreshold = DefaultConfig().IcebergThreshold
	}
	e := &Engine{
		cfg:     cfg,
		adapter: adapter,
		clock:   domain.RealClock{},
		logger:  logger.With(slog.String("component", "execution")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LiquidityScore is available depth relative to the requested amount,
// capped at 1. A score of 1 means the book can absorb the full amount.
func (e *Engine) LiquidityScore(snap domain.BookSnapshot, side domain.Side, amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	depth := snap.Depth(side)
	return math.Min(1.0, depth/amount)
}

// EstimateImpact walks the book accumulating cost for the requested amount
// and returns the volume-weighted fill price and its fractional distance from
// the best level. Insufficient depth returns ErrInsufficientLiquidity.
func (e *Engine) EstimateImpact(snap domain.BookSnapshot, side domain.Side, amount float64) (vwap, impact float64, err error) {
	levels := snap.SideLevels(side)
	if len(levels) == 0 || amount <= 0 {
		return 0, 0, fmt.Errorf("%s %s: empty book side: %w",
			snap.Venue, snap.Symbol, domain.ErrInsufficientLiquidity)
	}

	best, _ := levels[0].Price.Float64()
	remaining := amount
	cost := 0.0
	for _, lvl := range levels {
		price, _ := lvl.Price.Float64()
		qty, _ := lvl.Quantity.Float64()
		take := math.Min(remaining, qty)
		cost += take * price
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 {
		return 0, 0, fmt.Errorf("%s %s: depth short by %.6f of %.6f: %w",
			snap.Venue, snap.Symbol, remaining, amount, domain.ErrInsufficientLiquidity)
	}

	vwap = cost / amount
	if side == domain.SideBuy {
		impact = (vwap - best) / best
	} else {
		impact = (best - vwap) / best
	}
	return vwap, impact, nil
}

// chunkSize bounds each iceberg slice by both the parent amount and the
// visible side depth, with a floor so chunks stay placeable.
func (e *Engine) chunkSize(amount, sideDepth float64) float64 {
	chunk := math.Min(e.cfg.ChunkFraction*amount, e.cfg.DepthFraction*sideDepth)
	return math.Max(chunk, e.cfg.MinChunkSize)
}

// Execute fills amount on the given side. Parents at or above
// IcebergThreshold are sliced into chunks; smaller parents go out as a single
// child order. It aborts when a chunk cannot reach MinFillRatio within
// MaxRetries, cancelling resting child orders best-effort before returning.
// The partial report is always returned.
func (e *Engine) Execute(ctx context.Context, snap domain.BookSnapshot, side domain.Side, amount float64) (domain.ExecutionReport, error) {
	report := domain.ExecutionReport{
		Venue:  snap.Venue,
		Symbol: snap.Symbol,
		Side:   side,
	}
	start := e.clock.Now()
	defer func() {
		report.Latency = e.clock.Now().Sub(start)
		e.record(report)
	}()

	// Amounts the chunk loop would never place are an error, not an empty
	// success the caller could mistake for a filled leg.
	if amount <= e.cfg.MinChunkSize/2 {
		return report, fmt.Errorf("%s %s: amount %.8f below placeable minimum %.8f: %w",
			snap.Venue, snap.Symbol, amount, e.cfg.MinChunkSize/2, domain.ErrInvalidOrder)
	}

	if score := e.LiquidityScore(snap, side, amount); score < e.cfg.MinLiquidityScore {
		return report, fmt.Errorf("%s %s: liquidity score %.3f below %.3f: %w",
			snap.Venue, snap.Symbol, score, e.cfg.MinLiquidityScore, domain.ErrInsufficientLiquidity)
	}

	vwap, impact, err := e.EstimateImpact(snap, side, amount)
	if err != nil {
		return report, err
	}
	if impact > e.cfg.MaxImpact {
		return report, fmt.Errorf("%s %s: projected impact %.5f exceeds %.5f: %w",
			snap.Venue, snap.Symbol, impact, e.cfg.MaxImpact, domain.ErrExcessiveImpact)
	}
	report.ReferencePrice = vwap

	// Limit at the walked price so a chunk can cross every level it needs.
	limitPrice := vwap

	// Sub-threshold parents go out as a single order.
	chunk := amount
	if amount >= e.cfg.IcebergThreshold {
		chunk = e.chunkSize(amount, snap.Depth(side))
	}

	remaining := amount
	totalCost := 0.0
	for remaining > e.cfg.MinChunkSize/2 {
		size := math.Min(chunk, remaining)
		child, err := e.placeChunk(ctx, domain.OrderRequest{
			Venue:  snap.Venue,
			Symbol: snap.Symbol,
			Side:   side,
			Type:   domain.OrderTypeLimit,
			Amount: size,
			Price:  limitPrice,
		})
		report.Children = append(report.Children, child)
		report.FilledAmount += child.Filled
		totalCost += child.Filled * child.AveragePrice
		if report.FilledAmount > 0 {
			report.AveragePrice = totalCost / report.FilledAmount
		}
		if err != nil {
			e.cancelChildren(ctx, snap.Venue, snap.Symbol, report.Children)
			return report, err
		}
		if child.Filled <= 0 {
			e.cancelChildren(ctx, snap.Venue, snap.Symbol, report.Children)
			return report, fmt.Errorf("%s %s: chunk returned zero fill: %w",
				snap.Venue, snap.Symbol, domain.ErrLowFillRatio)
		}
		remaining -= child.Filled
	}

	e.logger.Debug("execution complete",
		slog.String("venue", snap.Venue),
		slog.String("symbol", snap.Symbol),
		slog.String("side", string(side)),
		slog.Float64("filled", report.FilledAmount),
		slog.Float64("avg_price", report.AveragePrice),
		slog.Int("children", len(report.Children)))
	return report, nil
}

// placeChunk submits one chunk, cancelling and re-placing while the fill
// ratio stays below MinFillRatio. The returned ChildOrder reflects the last
// attempt even on failure.
func (e *Engine) placeChunk(ctx context.Context, req domain.OrderRequest) (domain.ChildOrder, error) {
	var child domain.ChildOrder
	attempts := e.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		res, err := e.adapter.Place(ctx, req)
		if err != nil {
			return child, fmt.Errorf("place %s %s: %w", req.Venue, req.Symbol, err)
		}
		child = domain.ChildOrder{
			OrderID:      res.ID,
			Requested:    req.Amount,
			Filled:       res.Filled,
			AveragePrice: res.Average,
		}
		if req.Amount <= 0 || res.Filled/req.Amount >= e.cfg.MinFillRatio {
			return child, nil
		}
		if err := e.adapter.Cancel(ctx, req.Venue, res.ID, req.Symbol); err != nil {
			e.logger.Warn("cancel after low fill failed",
				slog.String("venue", req.Venue),
				slog.String("order_id", res.ID),
				slog.Any("error", err))
		} else {
			child.Cancelled = true
		}
		e.logger.Debug("chunk under-filled, retrying",
			slog.String("venue", req.Venue),
			slog.String("symbol", req.Symbol),
			slog.Float64("filled", res.Filled),
			slog.Float64("requested", req.Amount),
			slog.Int("attempt", attempt+1))
	}
	return child, fmt.Errorf("%s %s: %d attempts under fill ratio %.2f: %w",
		req.Venue, req.Symbol, attempts, e.cfg.MinFillRatio, domain.ErrLowFillRatio)
}

// cancelChildren best-effort cancels every child that is not already
// cancelled. Failures are logged and skipped; the abort proceeds regardless.
func (e *Engine) cancelChildren(ctx context.Context, venue, symbol string, children []domain.ChildOrder) {
	for i := range children {
		c := &children[i]
		if c.Cancelled || c.OrderID == "" {
			continue
		}
		if err := e.adapter.Cancel(ctx, venue, c.OrderID, symbol); err != nil {
			e.logger.Warn("abort cancel failed",
				slog.String("venue", venue),
				slog.String("order_id", c.OrderID),
				slog.Any("error", err))
			continue
		}
		c.Cancelled = true
	}
}

func (e *Engine) record(report domain.ExecutionReport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports = append(e.reports, report)
	if len(e.reports) > e.cfg.ReportBuffer {
		e.reports = e.reports[len(e.reports)-e.cfg.ReportBuffer:]
	}
}

// Reports returns a copy of the buffered execution history, oldest first.
func (e *Engine) Reports() []domain.ExecutionReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.ExecutionReport, len(e.reports))
	copy(out, e.reports)
	return out
}
