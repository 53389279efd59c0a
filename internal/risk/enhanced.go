package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vantagelabs/crossarb/internal/domain"
)

// Enhanced layers dynamic position sizing, a correlation penalty, and a
// simplified portfolio VaR gate on top of the basic limits.
type Enhanced struct {
	*Basic
	cfg Config

	mu         sync.Mutex
	lastPrices map[string]float64
	returns    map[string][]float64
	observed   int
	corr       map[string]map[string]float64
}

func newEnhanced(cfg Config, base *Basic) *Enhanced {
	return &Enhanced{
		Basic:      base,
		cfg:        cfg,
		lastPrices: make(map[string]float64),
		returns:    make(map[string][]float64),
		corr:       make(map[string]map[string]float64),
	}
}

func (e *Enhanced) CanEnter(symbol string, notional float64) error {
	if err := e.Basic.CanEnter(symbol, notional); err != nil {
		return err
	}
	if e.cfg.VarFraction <= 0 || e.cfg.MaxPortfolioVaR <= 0 {
		return nil
	}
	exposure := e.Basic.Metrics().TotalExposure
	projected := e.cfg.VarFraction * (exposure + notional)
	if projected > e.cfg.MaxPortfolioVaR {
		return fmt.Errorf("%s projected VaR %.2f exceeds limit %.2f: %w",
			symbol, projected, e.cfg.MaxPortfolioVaR, domain.ErrRiskRejected)
	}
	return nil
}

// Size scales the base size by volatility, signal strength, portfolio heat,
// and correlation to other open positions, then caps by max position value.
func (e *Enhanced) Size(symbol string, strength, price float64) float64 {
	if price <= 0 {
		return 0
	}
	base := e.cfg.baseSize(symbol)

	vol := e.volatility(symbol)
	volAdj := 1.0
	if e.cfg.VolScalingFactor > 0 {
		volAdj = 1.0 / (1.0 + vol*e.cfg.VolScalingFactor)
	}

	strengthAdj := 1.0
	if strength > 0 {
		strengthAdj = math.Sqrt(strength)
	}

	heatAdj := 1.0
	if heat := e.Basic.Metrics().PortfolioHeat; heat > 0 {
		heatAdj = 1.0 / (1.0 + heat)
	}

	corrAdj := 1.0 / (1.0 + e.openCorrelation(symbol))

	size := base * volAdj * strengthAdj * heatAdj * corrAdj

	if limit, ok := e.cfg.MaxPositionValues[symbol]; ok && limit > 0 {
		if maxSize := limit / price; size > maxSize {
			size = maxSize
		}
	}
	return size
}

// ObservePrice records a fractional return for volatility and correlation
// estimates and periodically refreshes the correlation matrix.
func (e *Enhanced) ObservePrice(symbol string, price float64, _ time.Time) {
	if price <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.lastPrices[symbol]; ok && prev > 0 {
		series := append(e.returns[symbol], (price-prev)/prev)
		if limit := e.cfg.ReturnHistory; limit > 0 && len(series) > limit {
			series = series[len(series)-limit:]
		}
		e.returns[symbol] = series
		e.observed++
		if refresh := e.cfg.CorrelationRefresh; refresh > 0 && e.observed%refresh == 0 {
			e.refreshCorrelationLocked()
		}
	}
	e.lastPrices[symbol] = price
}

func (e *Enhanced) volatility(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	series := e.returns[symbol]
	if len(series) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range series {
		mean += r
	}
	mean /= float64(len(series))
	variance := 0.0
	for _, r := range series {
		d := r - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(series)))
}

// openCorrelation averages |corr| between the candidate symbol and every
// other symbol holding an open position.
func (e *Enhanced) openCorrelation(symbol string) float64 {
	open := make([]string, 0, 4)
	e.Basic.mu.Lock()
	for sym, pos := range e.Basic.positions {
		if sym != symbol && pos.Size != 0 {
			open = append(open, sym)
		}
	}
	e.Basic.mu.Unlock()
	if len(open) == 0 {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	sum := 0.0
	for _, other := range open {
		if row, ok := e.corr[symbol]; ok {
			sum += math.Abs(row[other])
		}
	}
	return sum / float64(len(open))
}

// refreshCorrelationLocked recomputes pairwise correlations over the aligned
// tails of the return series. Pairs with fewer than MinCorrelationSamples
// overlapping points are treated as uncorrelated.
func (e *Enhanced) refreshCorrelationLocked() {
	symbols := make([]string, 0, len(e.returns))
	for sym := range e.returns {
		symbols = append(symbols, sym)
	}
	next := make(map[string]map[string]float64, len(symbols))
	for i, a := range symbols {
		for _, b := range symbols[i+1:] {
			c := correlation(e.returns[a], e.returns[b], e.cfg.MinCorrelationSamples)
			if next[a] == nil {
				next[a] = make(map[string]float64)
			}
			if next[b] == nil {
				next[b] = make(map[string]float64)
			}
			next[a][b] = c
			next[b][a] = c
		}
	}
	e.corr = next
}

func correlation(a, b []float64, minSamples int) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if minSamples < 2 {
		minSamples = 2
	}
	if n < minSamples {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
