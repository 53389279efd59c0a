package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which half of an orderbook an update or order targets.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PriceLevel is a single price+quantity entry in an orderbook. Quantities are
// kept as decimals end to end; only the statistics path converts to float64.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// BookUpdate is a normalized incremental orderbook update as delivered by a
// venue feed adapter. Quantity zero removes the level.
type BookUpdate struct {
	Venue     string
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp time.Time

	// Reset marks a pure reset: the store discards every level of the
	// (Venue, Symbol) book. Decoders emit one ahead of full-snapshot levels
	// so state from before a disconnect never survives.
	Reset bool
}

// TopOfBook is the best bid/ask for one symbol on one venue.
type TopOfBook struct {
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	BidQty    float64   `json:"bid_qty"`
	AskQty    float64   `json:"ask_qty"`
	Timestamp time.Time `json:"timestamp"`
}

// Crossed reports whether the book is crossed (best bid at or above best ask).
// A crossed book is a data error upstream, not a trading opportunity.
func (t TopOfBook) Crossed() bool {
	return t.Bid > 0 && t.Ask > 0 && t.Bid >= t.Ask
}

// Mid returns the midpoint price, or 0 when either side is empty.
func (t TopOfBook) Mid() float64 {
	if t.Bid <= 0 || t.Ask <= 0 {
		return 0
	}
	return (t.Bid + t.Ask) / 2
}

// BookSnapshot is a full depth copy of one side-ordered book: bids descending,
// asks ascending. It is immutable once returned by the book store.
type BookSnapshot struct {
	Venue     string
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// SideLevels returns the levels relevant for executing an order of the given
// side: asks for a buy, bids for a sell. Levels are in price priority order.
func (b BookSnapshot) SideLevels(side Side) []PriceLevel {
	if side == SideBuy {
		return b.Asks
	}
	return b.Bids
}

// Depth returns the total quantity available on one side.
func (b BookSnapshot) Depth(side Side) float64 {
	var total decimal.Decimal
	for _, lvl := range b.SideLevels(side) {
		total = total.Add(lvl.Quantity)
	}
	f, _ := total.Float64()
	return f
}

// TotalDepth returns the combined quantity across both sides.
func (b BookSnapshot) TotalDepth() float64 {
	return b.Depth(SideBuy) + b.Depth(SideSell)
}
