package fees

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testSchedule() *Schedule {
	return NewSchedule(Config{
		Venues: map[string]VenueFees{
			"binance": {
				DefaultMaker: 0.0010,
				DefaultTaker: 0.0010,
				Tiers: []Tier{
					{MinVolume: 50, MakerFee: 0.0009, TakerFee: 0.0009, Currency: "BTC"},
					{MinVolume: 100, MakerFee: 0.0008, TakerFee: 0.0008, Currency: "BTC"},
					{MinVolume: 500, MakerFee: 0.0007, TakerFee: 0.0007, Currency: "BTC"},
				},
			},
			"kraken": {
				DefaultMaker: 0.0016,
				DefaultTaker: 0.0026,
				Tiers: []Tier{
					{MinVolume: 50000, MakerFee: 0.0014, TakerFee: 0.0024, Currency: "USD"},
					{MinVolume: 100000, MakerFee: 0.0012, TakerFee: 0.0022, Currency: "USD"},
				},
			},
		},
		MinProfit:        map[string]float64{"BTC/USDT": 0.05},
		DefaultMinProfit: 0.01,
	}, slog.Default())
}

func TestFeeBelowAllTiersUsesDefault(t *testing.T) {
	s := testSchedule()
	assert.Equal(t, 0.0010, s.Fee("binance", false))
	assert.Equal(t, 0.0016, s.Fee("kraken", true))
}

func TestFeeTierScanStopsAtFirstUnreached(t *testing.T) {
	s := testSchedule()
	now := time.Now()
	// 120 units of volume reaches tier 2 (100) but not tier 3 (500).
	s.AddVolume("binance", 70, now)
	s.AddVolume("binance", 50, now)

	assert.Equal(t, 0.0008, s.Fee("binance", false))
	assert.Equal(t, 0.0008, s.Fee("binance", true))
}

func TestAddVolumePrunesAfterThirtyDays(t *testing.T) {
	s := testSchedule()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	s.AddVolume("kraken", 60000, base)
	s.AddVolume("kraken", 1, base.Add(31*24*time.Hour))

	// The old 60k entry aged out; only 1 remains, below every tier.
	assert.Equal(t, 1.0, s.RollingVolume("kraken"))
	assert.Equal(t, 0.0026, s.Fee("kraken", false))
}

func TestEffectivePriceBrackets(t *testing.T) {
	s := testSchedule()
	price := 30000.0

	buy := s.EffectivePrice(price, "binance", true, false)
	sell := s.EffectivePrice(price, "binance", false, false)

	assert.InDelta(t, price*1.0010, buy, 1e-9)
	assert.InDelta(t, price*0.9990, sell, 1e-9)
	assert.GreaterOrEqual(t, buy, price)
	assert.LessOrEqual(t, sell, price)
}

func TestMinProfitFallback(t *testing.T) {
	s := testSchedule()
	assert.Equal(t, 0.05, s.MinProfit("BTC/USDT"))
	assert.Equal(t, 0.01, s.MinProfit("ETH/USDT"))
}

func TestProfitableRejectsFeeBlindArbitrage(t *testing.T) {
	s := testSchedule()
	// Raw spread is +2 but both 0.1% taker fees swamp it.
	profit, ok := s.Profitable("BTC/USDT", "binance", 30001, "binance", 29999)
	assert.False(t, ok)
	assert.InDelta(t, 29999*0.999-30001*1.001, profit, 1e-6)
	assert.Less(t, profit, 0.0)
}
