// Package fees implements tiered maker/taker fee lookup driven by 30-day
// rolling volume, and fee-aware effective-price computation.
package fees

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ledgerRetention is how long volume entries count toward tier qualification.
const ledgerRetention = 30 * 24 * time.Hour

// Tier is one volume tier of a venue's fee schedule. MinVolume is the 30-day
// rolling notional required to qualify.
type Tier struct {
	MinVolume float64
	MakerFee  float64
	TakerFee  float64
	Currency  string
}

// VenueFees is a venue's default rates plus its ascending tier table.
type VenueFees struct {
	DefaultMaker float64
	DefaultTaker float64
	Tiers        []Tier
}

// volumeEntry is one notional observation in a venue's rolling ledger.
type volumeEntry struct {
	ts       time.Time
	notional float64
}

// Schedule resolves current fee rates per venue from static tier config and a
// mutable rolling volume ledger. Safe for concurrent use.
type Schedule struct {
	mu     sync.Mutex
	venues map[string]VenueFees
	ledger map[string][]volumeEntry

	// MinProfit is the per-symbol profit floor after fees; Default applies
	// when a symbol has no entry.
	minProfit        map[string]float64
	defaultMinProfit float64

	logger *slog.Logger
}

// Config configures a Schedule.
type Config struct {
	Venues           map[string]VenueFees
	MinProfit        map[string]float64
	DefaultMinProfit float64
}

// NewSchedule creates a Schedule. Tier tables are sorted by ascending
// MinVolume so lookup can stop at the first unreached tier.
func NewSchedule(cfg Config, logger *slog.Logger) *Schedule {
	venues := make(map[string]VenueFees, len(cfg.Venues))
	for name, vf := range cfg.Venues {
		tiers := make([]Tier, len(vf.Tiers))
		copy(tiers, vf.Tiers)
		sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinVolume < tiers[j].MinVolume })
		vf.Tiers = tiers
		venues[name] = vf
	}
	minProfit := make(map[string]float64, len(cfg.MinProfit))
	for k, v := range cfg.MinProfit {
		minProfit[k] = v
	}
	return &Schedule{
		venues:           venues,
		ledger:           make(map[string][]volumeEntry),
		minProfit:        minProfit,
		defaultMinProfit: cfg.DefaultMinProfit,
		logger:           logger.With(slog.String("component", "fee_schedule")),
	}
}

// AddVolume records traded notional for tier qualification and prunes ledger
// entries older than 30 days.
func (s *Schedule) AddVolume(venue string, notional float64, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.ledger[venue], volumeEntry{ts: ts, notional: notional})
	cutoff := ts.Add(-ledgerRetention)
	i := 0
	for i < len(entries) && !entries[i].ts.After(cutoff) {
		i++
	}
	s.ledger[venue] = entries[i:]
}

// RollingVolume returns the venue's current 30-day notional sum.
func (s *Schedule) RollingVolume(venue string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollingVolumeLocked(venue)
}

func (s *Schedule) rollingVolumeLocked(venue string) float64 {
	var total float64
	for _, e := range s.ledger[venue] {
		total += e.notional
	}
	return total
}

// Fee returns the current maker or taker rate for a venue. The scan walks
// tiers in ascending MinVolume order, adopting each reached tier's rate and
// stopping at the first tier the rolling volume has not reached.
func (s *Schedule) Fee(venue string, isMaker bool) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	vf, ok := s.venues[venue]
	if !ok {
		s.logger.Warn("fee lookup for unknown venue", slog.String("venue", venue))
		return 0
	}

	rate := vf.DefaultTaker
	if isMaker {
		rate = vf.DefaultMaker
	}

	volume := s.rollingVolumeLocked(venue)
	for _, tier := range vf.Tiers {
		if volume < tier.MinVolume {
			break
		}
		if isMaker {
			rate = tier.MakerFee
		} else {
			rate = tier.TakerFee
		}
	}
	return rate
}

// EffectivePrice adjusts a raw price for fees: buys pay price*(1+rate), sells
// receive price*(1-rate).
func (s *Schedule) EffectivePrice(price float64, venue string, isBuy, isMaker bool) float64 {
	rate := s.Fee(venue, isMaker)
	if isBuy {
		return price * (1 + rate)
	}
	return price * (1 - rate)
}

// MinProfit returns the after-fee profit floor for a symbol, falling back to
// the default when the symbol has no specific entry.
func (s *Schedule) MinProfit(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.minProfit[symbol]; ok {
		return v
	}
	return s.defaultMinProfit
}

// Profitable evaluates a prospective round-trip: taker on both legs, buy at
// buyPrice on buyVenue and sell at sellPrice on sellVenue. It returns the
// effective profit per unit and whether it clears the symbol's floor.
func (s *Schedule) Profitable(symbol, buyVenue string, buyPrice float64, sellVenue string, sellPrice float64) (float64, bool) {
	buyEff := s.EffectivePrice(buyPrice, buyVenue, true, false)
	sellEff := s.EffectivePrice(sellPrice, sellVenue, false, false)
	profit := sellEff - buyEff
	return profit, profit >= s.MinProfit(symbol)
}

// EstimateFees returns the absolute fee cost of a trade leg.
func (s *Schedule) EstimateFees(venue string, amount, price float64, isMaker bool) float64 {
	return amount * price * s.Fee(venue, isMaker)
}
