package signal

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/vantagelabs/crossarb/internal/domain"
)

// Config holds the tunable parameters of the signal engine.
type Config struct {
	// Windows are the rolling window durations evaluated per update.
	Windows []time.Duration
	// BaseThreshold is the z-score entry threshold before adaptation.
	BaseThreshold float64
	// VolImpact scales how much volatility raises the threshold.
	VolImpact float64
	// MomentumWindow is how many recent fractional returns feed momentum.
	MomentumWindow int
	// VolWindow is how many recent points feed the short-horizon std used
	// for the z-score volatility adjustment.
	VolWindow int
	// VolumeHistory is how many volume observations feed the recent-volume
	// average in the threshold's volume factor.
	VolumeHistory int
	// ActiveStartHour..ActiveEndHour (inclusive, UTC) lower the threshold;
	// QuietStartHour..QuietEndHour raise it.
	ActiveStartHour, ActiveEndHour int
	QuietStartHour, QuietEndHour   int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Windows:         []time.Duration{15 * time.Second, 60 * time.Second, 180 * time.Second, 360 * time.Second},
		BaseThreshold:   1.0,
		VolImpact:       0.5,
		MomentumWindow:  20,
		VolWindow:       30,
		VolumeHistory:   20,
		ActiveStartHour: 8,
		ActiveEndHour:   16,
		QuietStartHour:  0,
		QuietEndHour:    4,
	}
}

// symbolState is all per-symbol accumulation. Never shared across symbols.
type symbolState struct {
	buffers map[time.Duration]*WindowBuffer
	volumes []float64
}

// Engine computes per-window signal readings for each symbol. It is safe for
// concurrent use; each symbol's state is independent.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	symbols map[string]*symbolState
}

// NewEngine creates an Engine with the given config. Zero-valued fields fall
// back to defaults.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if len(cfg.Windows) == 0 {
		cfg.Windows = def.Windows
	}
	if cfg.BaseThreshold <= 0 {
		cfg.BaseThreshold = def.BaseThreshold
	}
	if cfg.VolImpact <= 0 {
		cfg.VolImpact = def.VolImpact
	}
	if cfg.MomentumWindow <= 0 {
		cfg.MomentumWindow = def.MomentumWindow
	}
	if cfg.VolWindow <= 0 {
		cfg.VolWindow = def.VolWindow
	}
	if cfg.VolumeHistory <= 0 {
		cfg.VolumeHistory = def.VolumeHistory
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "signal_engine")),
		symbols: make(map[string]*symbolState),
	}
}

// Update feeds one spread observation and returns a fresh reading per window.
func (e *Engine) Update(symbol string, spread, volume float64, ts time.Time) map[time.Duration]domain.SignalReading {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.symbols[symbol]
	if !ok {
		st = &symbolState{buffers: make(map[time.Duration]*WindowBuffer, len(e.cfg.Windows))}
		for _, w := range e.cfg.Windows {
			st.buffers[w] = NewWindowBuffer(w)
		}
		e.symbols[symbol] = st
	}

	st.volumes = append(st.volumes, volume)
	if over := len(st.volumes) - e.cfg.VolumeHistory; over > 0 {
		st.volumes = st.volumes[over:]
	}
	avgVolume := mean(st.volumes)

	readings := make(map[time.Duration]domain.SignalReading, len(e.cfg.Windows))
	for _, w := range e.cfg.Windows {
		buf := st.buffers[w]
		buf.Add(ts, spread)
		readings[w] = e.read(buf, w, spread, volume, avgVolume, ts)
	}
	return readings
}

// read computes the reading for one window buffer.
func (e *Engine) read(buf *WindowBuffer, window time.Duration, spread, volume, avgVolume float64, ts time.Time) domain.SignalReading {
	reading := domain.SignalReading{
		Window:    window,
		Threshold: e.cfg.BaseThreshold,
		Timestamp: ts,
	}
	if buf.Len() < 2 {
		return reading
	}

	values := buf.Values()
	m, std := meanStd(values)

	returns := fractionalReturns(values)
	volatility := annualizedVol(returns)
	momentum := sumTail(returns, e.cfg.MomentumWindow)

	var zscore float64
	if std > 0 {
		// Compare short-horizon to full-window dispersion: z-scores
		// shrink when recent variance runs hot.
		volAdj := 1.0
		if len(values) > e.cfg.VolWindow {
			_, recentStd := meanStd(values[len(values)-e.cfg.VolWindow:])
			if recentStd > 0 {
				volAdj = clamp(recentStd/std, 0.5, 2.0)
			}
		}
		zscore = (spread - m) / (std * volAdj)
	}

	reading.ZScore = zscore
	reading.Volatility = volatility
	reading.Momentum = momentum
	reading.Threshold = e.adaptiveThreshold(volatility, momentum, volume, avgVolume, ts)

	volumeWeight := 1.0
	if avgVolume > 0 {
		volumeWeight = volume / avgVolume
	}
	reading.Strength = math.Abs(zscore) * volumeWeight
	return reading
}

// adaptiveThreshold scales the base threshold by volatility, relative volume,
// time of day, and momentum, clamped to [0.5, 5.0].
func (e *Engine) adaptiveThreshold(volatility, momentum, volume, avgVolume float64, ts time.Time) float64 {
	volAdjustment := 1.0 + volatility*e.cfg.VolImpact

	volumeRatio := 1.0
	if avgVolume > 0 {
		volumeRatio = volume / avgVolume
	}
	volumeFactor := 1.0 / (1.0 + math.Log1p(volumeRatio))

	timeFactor := 1.0
	hour := ts.UTC().Hour()
	switch {
	case hour >= e.cfg.ActiveStartHour && hour <= e.cfg.ActiveEndHour:
		timeFactor = 0.9
	case hour >= e.cfg.QuietStartHour && hour <= e.cfg.QuietEndHour:
		timeFactor = 1.2
	}

	threshold := e.cfg.BaseThreshold * volAdjustment * volumeFactor * timeFactor * (1.0 + 0.1*math.Abs(momentum))
	return clamp(threshold, 0.5, 5.0)
}

// Select picks the qualifying reading with the largest |z| across windows.
// The second return is false when no window clears its threshold.
func Select(readings map[time.Duration]domain.SignalReading) (domain.SignalReading, bool) {
	var best domain.SignalReading
	found := false
	for _, r := range readings {
		if !r.Qualifies() {
			continue
		}
		if !found || math.Abs(r.ZScore) > math.Abs(best.ZScore) {
			best = r
			found = true
		}
	}
	return best, found
}

// ShortestWindowZ returns the z-score of the shortest configured window,
// used for mean-reversion exit checks where responsiveness matters more than
// confirmation.
func ShortestWindowZ(readings map[time.Duration]domain.SignalReading) float64 {
	var shortest time.Duration
	var z float64
	for w, r := range readings {
		if shortest == 0 || w < shortest {
			shortest = w
			z = r.ZScore
		}
	}
	return z
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// annualizedVol is the population std of returns scaled by sqrt(252).
func annualizedVol(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	_, std := meanStd(returns)
	return std * math.Sqrt(252)
}

func sumTail(values []float64, n int) float64 {
	if n <= 0 || len(values) == 0 {
		return 0
	}
	start := len(values) - n
	if start < 0 {
		start = 0
	}
	var sum float64
	for _, v := range values[start:] {
		sum += v
	}
	return sum
}
