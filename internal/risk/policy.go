// Package risk provides pre-trade admission control, dynamic position sizing,
// stop-loss tracking, and the drawdown kill switch.
package risk

import (
	"time"

	"github.com/vantagelabs/crossarb/internal/domain"
)

// Variant selects which policy implementation to run.
type Variant string

const (
	VariantBasic    Variant = "basic"
	VariantEnhanced Variant = "enhanced"
)

// Config holds the risk limits for both policy variants. Enhanced-only
// fields are ignored by the basic policy.
type Config struct {
	// MaxNotionalPerTrade caps one trade's notional per symbol.
	MaxNotionalPerTrade map[string]float64
	DefaultMaxNotional  float64
	// MaxTotalNotional caps aggregate open notional across all symbols.
	MaxTotalNotional float64
	// MaxDrawdown halts all entries once cumulative PnL falls to or below
	// it. Expressed as a negative number.
	MaxDrawdown float64
	// StopSpreadAmount is the adverse spread move that triggers stop-loss.
	StopSpreadAmount float64
	// ExitZThreshold is the mean-reversion exit band.
	ExitZThreshold float64

	// Enhanced sizing.
	BasePositionSizes map[string]float64
	DefaultBaseSize   float64
	MaxPositionValues map[string]float64
	// ReferencePortfolioValue normalizes portfolio heat.
	ReferencePortfolioValue float64
	// VolScalingFactor is k in volAdj = 1/(1+vol*k).
	VolScalingFactor float64
	// CorrelationRefresh recomputes the matrix every N return observations.
	CorrelationRefresh int
	// MinCorrelationSamples below which correlation is treated as 0.
	MinCorrelationSamples int
	// ReturnHistory bounds per-symbol return series length.
	ReturnHistory int
	// VarFraction is the simplified VaR rate applied to total exposure.
	VarFraction float64
	// MaxPortfolioVaR rejects trades whose projected VaR exceeds it.
	MaxPortfolioVaR float64
}

// entryState tracks the open logical position's spread entry per symbol.
// At most one logical position is open per symbol at a time.
type entryState struct {
	entrySpread float64
	direction   domain.Direction
	enteredAt   time.Time
}

// Metrics is a read-only snapshot of the process-wide risk state.
type Metrics struct {
	CumulativePnL   float64
	PeakPnL         float64
	CurrentDrawdown float64
	Halted          bool
	OpenPositions   int
	TotalExposure   float64
	PortfolioHeat   float64
}

// Policy is the admission-control surface the coordinator drives. The Basic
// and Enhanced variants resolve the two incompatible risk managers found in
// earlier revisions of this system behind one interface.
type Policy interface {
	// CanEnter validates a prospective trade's notional against limits.
	// The returned error is a sentinel from domain (ErrRiskRejected,
	// ErrDrawdownHalt); admission failures are expected outcomes.
	CanEnter(symbol string, notional float64) error
	// Size returns the approved trade size for the given signal strength
	// and price. Never exceeds max position value / price.
	Size(symbol string, strength, price float64) float64
	// ObservePrice feeds market data for volatility/correlation estimates.
	ObservePrice(symbol string, price float64, ts time.Time)
	// RegisterEntry records the spread and direction of a new position.
	RegisterEntry(symbol string, spread float64, dir domain.Direction, ts time.Time)
	// Entered reports whether the symbol has an open logical position.
	Entered(symbol string) bool
	// CheckStopLoss reports and clears a stop-loss trigger.
	CheckStopLoss(symbol string, currentSpread float64) bool
	// CheckExit reports and clears a mean-reversion exit trigger.
	CheckExit(symbol string, zscore float64) bool
	// RegisterFill applies a confirmed fill to position and PnL state.
	RegisterFill(symbol string, size, price, pnl float64, ts time.Time)
	// Position returns the current position for a symbol.
	Position(symbol string) domain.Position
	// Metrics returns the process-wide risk snapshot.
	Metrics() Metrics
	// ResetHalt clears the drawdown kill switch. Operator action only.
	ResetHalt()
}

// New constructs the configured policy variant.
func New(variant Variant, cfg Config) Policy {
	base := newBasic(cfg)
	if variant == VariantEnhanced {
		return newEnhanced(cfg, base)
	}
	return base
}

func (c Config) maxNotional(symbol string) float64 {
	if v, ok := c.MaxNotionalPerTrade[symbol]; ok {
		return v
	}
	return c.DefaultMaxNotional
}

func (c Config) baseSize(symbol string) float64 {
	if v, ok := c.BasePositionSizes[symbol]; ok {
		return v
	}
	return c.DefaultBaseSize
}
