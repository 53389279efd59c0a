// Package paper provides a simulated venue: orders fill against the current
// in-memory book, so paper mode exercises the full execution path with no
// exchange connectivity.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/vantagelabs/crossarb/internal/book"
	"github.com/vantagelabs/crossarb/internal/domain"
)

// Adapter implements domain.OrderAdapter and domain.MarketData against the
// book store. Limit orders fill the quantity available at or better than the
// limit price; the remainder is left unfilled.
type Adapter struct {
	store  *book.Store
	logger *slog.Logger

	// FillRatio scales every fill, simulating partial liquidity capture.
	// 1.0 fills whatever the book shows.
	fillRatio float64

	mu   sync.Mutex
	open map[string]domain.OrderRequest
}

// Option configures the adapter.
type Option func(*Adapter)

// WithFillRatio caps fills at the given fraction of available quantity.
func WithFillRatio(r float64) Option {
	return func(a *Adapter) {
		if r > 0 && r <= 1 {
			a.fillRatio = r
		}
	}
}

// New creates a paper adapter reading liquidity from the store.
func New(store *book.Store, logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		store:     store,
		logger:    logger.With(slog.String("component", "paper_adapter")),
		fillRatio: 1.0,
		open:      make(map[string]domain.OrderRequest),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Place fills the order against the current book snapshot. A buy consumes
// asks at or below the limit price, a sell consumes bids at or above it.
func (a *Adapter) Place(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderResult{}, err
	}
	if req.Amount <= 0 || (req.Type == domain.OrderTypeLimit && req.Price <= 0) {
		return domain.OrderResult{}, fmt.Errorf("%s %s amount=%.8f price=%.8f: %w",
			req.Venue, req.Symbol, req.Amount, req.Price, domain.ErrInvalidOrder)
	}

	snap, ok := a.store.Snapshot(req.Venue, req.Symbol)
	if !ok {
		return domain.OrderResult{}, fmt.Errorf("%s %s: %w", req.Venue, req.Symbol, domain.ErrDataUnavailable)
	}

	filled, cost := a.match(snap, req)
	id := uuid.NewString()
	status := domain.OrderStatusFilled
	switch {
	case filled <= 0:
		status = domain.OrderStatusOpen
	case filled < req.Amount:
		status = domain.OrderStatusPartial
	}
	if status != domain.OrderStatusFilled {
		a.mu.Lock()
		a.open[id] = req
		a.mu.Unlock()
	}

	avg := 0.0
	if filled > 0 {
		avg = cost / filled
	}
	a.logger.Debug("paper order placed",
		slog.String("order_id", id),
		slog.String("venue", req.Venue),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("requested", req.Amount),
		slog.Float64("filled", filled))
	return domain.OrderResult{ID: id, Filled: filled, Average: avg, Status: status}, nil
}

// match walks the opposing side within the limit price.
func (a *Adapter) match(snap domain.BookSnapshot, req domain.OrderRequest) (filled, cost float64) {
	remaining := req.Amount
	for _, lvl := range snap.SideLevels(req.Side) {
		price, _ := lvl.Price.Float64()
		qty, _ := lvl.Quantity.Float64()
		if req.Type == domain.OrderTypeLimit {
			if req.Side == domain.SideBuy && price > req.Price {
				break
			}
			if req.Side == domain.SideSell && price < req.Price {
				break
			}
		}
		take := math.Min(remaining, qty*a.fillRatio)
		filled += take
		cost += take * price
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	return filled, cost
}

// Cancel removes a resting paper order. Unknown IDs return ErrNotFound so
// callers can treat double-cancels as settled.
func (a *Adapter) Cancel(_ context.Context, venue, orderID, symbol string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.open[orderID]; !ok {
		return fmt.Errorf("%s %s order %s: %w", venue, symbol, orderID, domain.ErrNotFound)
	}
	delete(a.open, orderID)
	return nil
}

// Snapshot implements domain.MarketData from the in-memory book.
func (a *Adapter) Snapshot(_ context.Context, venue, symbol string) (domain.TopOfBook, error) {
	top, ok := a.store.TopOfBook(venue, symbol)
	if !ok {
		return domain.TopOfBook{}, fmt.Errorf("%s %s: %w", venue, symbol, domain.ErrDataUnavailable)
	}
	return top, nil
}

// OpenOrders returns how many paper orders are resting.
func (a *Adapter) OpenOrders() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}
