package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagelabs/crossarb/internal/domain"
)

func testConfig() Config {
	return Config{
		MaxNotionalPerTrade:     map[string]float64{"BTCUSDT": 1000},
		DefaultMaxNotional:      500,
		MaxTotalNotional:        5000,
		MaxDrawdown:             -0.005,
		StopSpreadAmount:        2.0,
		ExitZThreshold:          0.3,
		BasePositionSizes:       map[string]float64{"BTCUSDT": 0.02},
		DefaultBaseSize:         0.01,
		MaxPositionValues:       map[string]float64{"BTCUSDT": 600},
		ReferencePortfolioValue: 10000,
		VolScalingFactor:        10,
		CorrelationRefresh:      100,
		MinCorrelationSamples:   20,
		ReturnHistory:           500,
		VarFraction:             0.01,
		MaxPortfolioVaR:         100,
	}
}

func TestBasicPerTradeCap(t *testing.T) {
	p := New(VariantBasic, testConfig())

	require.NoError(t, p.CanEnter("BTCUSDT", 999))
	err := p.CanEnter("BTCUSDT", 1001)
	require.ErrorIs(t, err, domain.ErrRiskRejected)

	// Unknown symbol falls back to the default cap.
	require.NoError(t, p.CanEnter("DOGEUSDT", 499))
	require.ErrorIs(t, p.CanEnter("DOGEUSDT", 501), domain.ErrRiskRejected)
}

func TestBasicAggregateCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxNotionalPerTrade = map[string]float64{"BTCUSDT": 4000, "ETHUSDT": 4000}
	p := New(VariantBasic, cfg)

	p.RegisterFill("BTCUSDT", 0.1, 40000, 0, time.Now())

	// Exposure is 4000; another 1500 would breach the 5000 aggregate cap.
	require.ErrorIs(t, p.CanEnter("ETHUSDT", 1500), domain.ErrRiskRejected)
	require.NoError(t, p.CanEnter("ETHUSDT", 900))
}

func TestDrawdownKillSwitchBlocksAllSymbolsUntilReset(t *testing.T) {
	p := New(VariantBasic, testConfig())
	now := time.Now()

	p.RegisterFill("BTCUSDT", 0, 0, -0.004, now)
	require.NoError(t, p.CanEnter("BTCUSDT", 100))

	p.RegisterFill("BTCUSDT", 0, 0, -0.002, now)
	require.ErrorIs(t, p.CanEnter("BTCUSDT", 100), domain.ErrDrawdownHalt)
	require.ErrorIs(t, p.CanEnter("ETHUSDT", 1), domain.ErrDrawdownHalt)

	// A later profitable fill does not un-halt; only an explicit reset does.
	p.RegisterFill("BTCUSDT", 0, 0, 0.05, now)
	require.ErrorIs(t, p.CanEnter("BTCUSDT", 100), domain.ErrDrawdownHalt)

	p.ResetHalt()
	require.NoError(t, p.CanEnter("BTCUSDT", 100))
}

func TestStopLossBothDirections(t *testing.T) {
	p := New(VariantBasic, testConfig())
	now := time.Now()

	p.RegisterEntry("BTCUSDT", 10.0, domain.DirectionShortSpread, now)
	assert.False(t, p.CheckStopLoss("BTCUSDT", 11.9))
	assert.True(t, p.CheckStopLoss("BTCUSDT", 12.0))
	// Trigger clears the entry state.
	assert.False(t, p.CheckStopLoss("BTCUSDT", 20.0))

	p.RegisterEntry("ETHUSDT", -3.0, domain.DirectionLongSpread, now)
	assert.False(t, p.CheckStopLoss("ETHUSDT", -4.9))
	assert.True(t, p.CheckStopLoss("ETHUSDT", -5.0))
}

func TestMeanReversionExit(t *testing.T) {
	p := New(VariantBasic, testConfig())
	now := time.Now()

	p.RegisterEntry("BTCUSDT", 10.0, domain.DirectionShortSpread, now)
	assert.False(t, p.CheckExit("BTCUSDT", 1.5))
	assert.True(t, p.CheckExit("BTCUSDT", 0.2))
	assert.False(t, p.Entered("BTCUSDT"))

	p.RegisterEntry("ETHUSDT", -3.0, domain.DirectionLongSpread, now)
	assert.False(t, p.CheckExit("ETHUSDT", -1.5))
	assert.True(t, p.CheckExit("ETHUSDT", -0.1))
}

func TestPositionAveraging(t *testing.T) {
	p := New(VariantBasic, testConfig())
	now := time.Now()

	p.RegisterFill("BTCUSDT", 0.01, 30000, 0, now)
	p.RegisterFill("BTCUSDT", 0.01, 31000, 0, now)

	pos := p.Position("BTCUSDT")
	assert.InDelta(t, 0.02, pos.Size, 1e-12)
	assert.InDelta(t, 30500, pos.AvgPrice, 1e-6)

	p.RegisterFill("BTCUSDT", -0.02, 31000, 0.01, now)
	pos = p.Position("BTCUSDT")
	assert.InDelta(t, 0, pos.Size, 1e-12)
	assert.Equal(t, 0.0, pos.AvgPrice)
	assert.InDelta(t, 0.01, p.Metrics().CumulativePnL, 1e-12)
}

func TestEnhancedSizeNeverExceedsValueCap(t *testing.T) {
	p := New(VariantEnhanced, testConfig())

	// Max position value 600 at price 30000 caps size at 0.02 regardless
	// of how strong the signal is.
	for _, strength := range []float64{0.1, 1, 5, 100} {
		size := p.Size("BTCUSDT", strength, 30000)
		assert.LessOrEqual(t, size, 600.0/30000.0+1e-12, "strength %v", strength)
		assert.Greater(t, size, 0.0)
	}
}

func TestEnhancedSizeShrinksWithVolatility(t *testing.T) {
	cfg := testConfig()
	p := New(VariantEnhanced, cfg)

	calm := p.Size("ETHUSDT", 1.0, 2000)

	// Feed a jagged price path to raise the realized vol estimate.
	now := time.Now()
	price := 2000.0
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			price *= 1.05
		} else {
			price *= 0.95
		}
		p.ObservePrice("ETHUSDT", price, now)
	}

	volatile := p.Size("ETHUSDT", 1.0, 2000)
	assert.Less(t, volatile, calm)
}

func TestEnhancedSizeScalesWithStrength(t *testing.T) {
	p := New(VariantEnhanced, testConfig())

	weak := p.Size("ETHUSDT", 0.25, 2000)
	strong := p.Size("ETHUSDT", 1.0, 2000)
	assert.InDelta(t, 2.0, strong/weak, 1e-9)
}

func TestEnhancedVaRGate(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPortfolioVaR = 10 // 1% of exposure may not exceed 10
	cfg.MaxNotionalPerTrade = map[string]float64{"BTCUSDT": 2000, "ETHUSDT": 2000}
	cfg.MaxTotalNotional = 100000
	p := New(VariantEnhanced, cfg)

	require.NoError(t, p.CanEnter("BTCUSDT", 900))

	p.RegisterFill("BTCUSDT", 0.02, 40000, 0, time.Now()) // exposure 800
	require.NoError(t, p.CanEnter("ETHUSDT", 150))        // projected VaR 9.5
	require.ErrorIs(t, p.CanEnter("ETHUSDT", 300), domain.ErrRiskRejected)
}

func TestCorrelationPenaltyReducesSize(t *testing.T) {
	cfg := testConfig()
	cfg.CorrelationRefresh = 10
	cfg.MinCorrelationSamples = 5
	p := New(VariantEnhanced, cfg).(*Enhanced)

	// Perfectly correlated return series for two symbols.
	now := time.Now()
	pa, pb := 30000.0, 2000.0
	for i := 0; i < 30; i++ {
		step := 1.0 + 0.01*float64(i%3-1)
		pa *= step
		pb *= step
		p.ObservePrice("BTCUSDT", pa, now)
		p.ObservePrice("ETHUSDT", pb, now)
	}

	unpenalized := p.Size("ETHUSDT", 1.0, 2000)

	// Open a BTC position so ETH sizing pays the correlation penalty.
	p.RegisterFill("BTCUSDT", 0.001, 30000, 0, now)
	penalized := p.Size("ETHUSDT", 1.0, 2000)

	assert.Less(t, penalized, unpenalized)
	// |corr| ~ 1 halves the size.
	assert.InDelta(t, 0.5, penalized/unpenalized, 0.1)
}

func TestCorrelationBelowMinSamplesIsZero(t *testing.T) {
	assert.Equal(t, 0.0, correlation([]float64{1, 2, 3}, []float64{1, 2, 3}, 20))
}
