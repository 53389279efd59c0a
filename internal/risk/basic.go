package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vantagelabs/crossarb/internal/domain"
)

// Basic enforces static notional caps, the drawdown kill switch, and
// per-symbol stop-loss / mean-reversion exit tracking.
type Basic struct {
	cfg Config

	mu        sync.Mutex
	positions map[string]*domain.Position
	entries   map[string]*entryState

	cumulativePnL float64
	peakPnL       float64
	halted        bool
}

func newBasic(cfg Config) *Basic {
	return &Basic{
		cfg:       cfg,
		positions: make(map[string]*domain.Position),
		entries:   make(map[string]*entryState),
	}
}

func (b *Basic) CanEnter(symbol string, notional float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canEnterLocked(symbol, notional)
}

func (b *Basic) canEnterLocked(symbol string, notional float64) error {
	if b.halted {
		return fmt.Errorf("%s: %w", symbol, domain.ErrDrawdownHalt)
	}
	if notional <= 0 {
		return fmt.Errorf("notional %.4f: %w", notional, domain.ErrRiskRejected)
	}
	if limit := b.cfg.maxNotional(symbol); limit > 0 && notional > limit {
		return fmt.Errorf("%s notional %.2f exceeds per-trade cap %.2f: %w",
			symbol, notional, limit, domain.ErrRiskRejected)
	}
	if b.cfg.MaxTotalNotional > 0 {
		if total := b.exposureLocked() + notional; total > b.cfg.MaxTotalNotional {
			return fmt.Errorf("total notional %.2f exceeds aggregate cap %.2f: %w",
				total, b.cfg.MaxTotalNotional, domain.ErrRiskRejected)
		}
	}
	return nil
}

// Size for the basic variant is the configured base size capped by the
// per-trade notional limit. Strength does not influence it.
func (b *Basic) Size(symbol string, _ float64, price float64) float64 {
	size := b.cfg.baseSize(symbol)
	if price <= 0 {
		return 0
	}
	if limit := b.cfg.maxNotional(symbol); limit > 0 && size*price > limit {
		size = limit / price
	}
	return size
}

func (b *Basic) ObservePrice(string, float64, time.Time) {}

func (b *Basic) RegisterEntry(symbol string, spread float64, dir domain.Direction, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[symbol] = &entryState{entrySpread: spread, direction: dir, enteredAt: ts}
}

func (b *Basic) Entered(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[symbol]
	return ok
}

// CheckStopLoss triggers when the spread moves StopSpreadAmount against the
// entry: up for short-spread positions, down for long-spread ones. A trigger
// clears the entry so the next check starts flat.
func (b *Basic) CheckStopLoss(symbol string, currentSpread float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.entries[symbol]
	if !ok || b.cfg.StopSpreadAmount <= 0 {
		return false
	}
	var hit bool
	switch st.direction {
	case domain.DirectionShortSpread:
		hit = currentSpread >= st.entrySpread+b.cfg.StopSpreadAmount
	case domain.DirectionLongSpread:
		hit = currentSpread <= st.entrySpread-b.cfg.StopSpreadAmount
	}
	if hit {
		delete(b.entries, symbol)
	}
	return hit
}

// CheckExit triggers when the z-score has reverted inside the exit band:
// below +ExitZThreshold for short-spread entries, above -ExitZThreshold for
// long-spread ones.
func (b *Basic) CheckExit(symbol string, zscore float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.entries[symbol]
	if !ok {
		return false
	}
	var hit bool
	switch st.direction {
	case domain.DirectionShortSpread:
		hit = zscore < b.cfg.ExitZThreshold
	case domain.DirectionLongSpread:
		hit = zscore > -b.cfg.ExitZThreshold
	}
	if hit {
		delete(b.entries, symbol)
	}
	return hit
}

func (b *Basic) RegisterFill(symbol string, size, price, pnl float64, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[symbol]
	if !ok {
		pos = &domain.Position{Symbol: symbol}
		b.positions[symbol] = pos
	}
	newSize := pos.Size + size
	if newSize != 0 && size != 0 {
		// Weighted average entry price across the combined position.
		pos.AvgPrice = (pos.AvgPrice*pos.Size + price*size) / newSize
	}
	if newSize == 0 {
		pos.AvgPrice = 0
	}
	pos.Size = newSize
	pos.LastUpdate = ts

	b.cumulativePnL += pnl
	if b.cumulativePnL > b.peakPnL {
		b.peakPnL = b.cumulativePnL
	}
	if b.cfg.MaxDrawdown < 0 && b.cumulativePnL <= b.cfg.MaxDrawdown {
		b.halted = true
	}
}

func (b *Basic) Position(symbol string) domain.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos, ok := b.positions[symbol]; ok {
		return *pos
	}
	return domain.Position{Symbol: symbol}
}

func (b *Basic) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	open := 0
	for _, pos := range b.positions {
		if pos.Size != 0 {
			open++
		}
	}
	exposure := b.exposureLocked()
	heat := 0.0
	if b.cfg.ReferencePortfolioValue > 0 {
		heat = exposure / b.cfg.ReferencePortfolioValue
	}
	return Metrics{
		CumulativePnL:   b.cumulativePnL,
		PeakPnL:         b.peakPnL,
		CurrentDrawdown: b.peakPnL - b.cumulativePnL,
		Halted:          b.halted,
		OpenPositions:   open,
		TotalExposure:   exposure,
		PortfolioHeat:   heat,
	}
}

func (b *Basic) ResetHalt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = false
}

func (b *Basic) exposureLocked() float64 {
	total := 0.0
	for _, pos := range b.positions {
		total += math.Abs(pos.Size * pos.AvgPrice)
	}
	return total
}
