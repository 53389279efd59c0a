package domain

import "time"

// Direction encodes which way a spread trade is positioned. +1 expects the
// spread to fall (sell the rich venue, buy the cheap one), -1 the opposite.
type Direction int

const (
	DirectionShortSpread Direction = 1
	DirectionLongSpread  Direction = -1
)

// SignalReading is the per-window output of the signal engine for one update.
// Readings are ephemeral; they are recomputed every cycle and never persisted.
type SignalReading struct {
	Window     time.Duration
	ZScore     float64
	Threshold  float64
	Volatility float64
	Momentum   float64
	Strength   float64
	Timestamp  time.Time
}

// Qualifies reports whether the reading clears its adaptive threshold.
func (r SignalReading) Qualifies() bool {
	return abs(r.ZScore) >= r.Threshold && r.Threshold > 0
}

// Direction returns the implied trade direction. Only meaningful when the
// reading qualifies.
func (r SignalReading) Direction() Direction {
	if r.ZScore > 0 {
		return DirectionShortSpread
	}
	return DirectionLongSpread
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
