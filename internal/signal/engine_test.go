package signal

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantagelabs/crossarb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestRollingZScoreConstantSeries(t *testing.T) {
	rz := NewRollingZScore(5)
	var z float64
	for i := 0; i < 5; i++ {
		z = rz.Add(1)
	}
	// Identical values: population std is 0, z must be exactly 0.
	assert.Equal(t, 0.0, z)
}

func TestRollingZScoreVariance(t *testing.T) {
	rz := NewRollingZScore(3)
	var z float64
	for _, v := range []float64{1, 2, 3} {
		z = rz.Add(v)
	}
	// mean=2, population std=sqrt(2/3): z = (3-2)/0.8165 ≈ 1.2247
	assert.InDelta(t, 1.2247, z, 1e-3)
}

func TestRollingZScoreEvictsOldest(t *testing.T) {
	rz := NewRollingZScore(3)
	for _, v := range []float64{100, 1, 2} {
		rz.Add(v)
	}
	z := rz.Add(3)
	assert.Equal(t, 3, rz.Len())
	// Window is now [1,2,3] again.
	assert.InDelta(t, 1.2247, z, 1e-3)
}

func TestEngineFewPointsNeutral(t *testing.T) {
	e := NewEngine(Config{Windows: []time.Duration{time.Minute}}, testLogger())
	readings := e.Update("BTC/USDT", 5.0, 1.0, time.Unix(1000, 0))

	r := readings[time.Minute]
	assert.Equal(t, 0.0, r.ZScore)
	assert.Equal(t, 0.0, r.Strength)
	assert.Equal(t, 1.0, r.Threshold)
}

func TestEngineZScoreMatchesPopulationStats(t *testing.T) {
	e := NewEngine(Config{Windows: []time.Duration{time.Minute}}, testLogger())
	ts := time.Unix(1000, 0)
	var z float64
	for i, v := range []float64{1, 2, 3} {
		readings := e.Update("BTC/USDT", v, 1.0, ts.Add(time.Duration(i)*time.Second))
		z = readings[time.Minute].ZScore
	}
	assert.InDelta(t, 1.2247, z, 1e-3)
}

func TestEngineEvictsOutsideWindow(t *testing.T) {
	e := NewEngine(Config{Windows: []time.Duration{10 * time.Second}}, testLogger())
	ts := time.Unix(1000, 0)

	e.Update("BTC/USDT", 100, 1.0, ts)
	// 11 seconds later the first point is evicted; buffer has one point
	// again and the reading is neutral.
	readings := e.Update("BTC/USDT", 1, 1.0, ts.Add(11*time.Second))
	assert.Equal(t, 0.0, readings[10*time.Second].ZScore)
}

func TestAdaptiveThresholdBounds(t *testing.T) {
	e := NewEngine(DefaultConfig(), testLogger())
	// Extreme volatility and momentum cannot push the threshold past 5.
	high := e.adaptiveThreshold(100, 100, 1, 1, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, 5.0, high)
	// A flood of volume cannot pull it under 0.5.
	low := e.adaptiveThreshold(0, 0, 1e9, 1, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, 0.5, low)
}

func TestAdaptiveThresholdTimeOfDay(t *testing.T) {
	e := NewEngine(DefaultConfig(), testLogger())
	active := e.adaptiveThreshold(0, 0, 1, 1, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	quiet := e.adaptiveThreshold(0, 0, 1, 1, time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC))
	off := e.adaptiveThreshold(0, 0, 1, 1, time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC))
	assert.Less(t, active, off)
	assert.Greater(t, quiet, off)
}

func buildReadings(rs map[time.Duration]struct{ z, thr float64 }) map[time.Duration]domain.SignalReading {
	out := make(map[time.Duration]domain.SignalReading, len(rs))
	for w, r := range rs {
		out[w] = domain.SignalReading{Window: w, ZScore: r.z, Threshold: r.thr}
	}
	return out
}

func TestSelectPicksStrongestQualifying(t *testing.T) {
	rs := map[time.Duration]struct {
		z, thr float64
	}{
		15 * time.Second:  {z: 1.1, thr: 1.0},
		60 * time.Second:  {z: -2.5, thr: 1.0},
		180 * time.Second: {z: 3.0, thr: 3.5}, // below threshold
	}
	sel, ok := Select(buildReadings(rs))
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, sel.Window)
	assert.Equal(t, -2.5, sel.ZScore)
}

func TestSelectNoneQualify(t *testing.T) {
	rs := map[time.Duration]struct {
		z, thr float64
	}{
		15 * time.Second: {z: 0.5, thr: 1.0},
		60 * time.Second: {z: -0.9, thr: 1.0},
	}
	_, ok := Select(buildReadings(rs))
	assert.False(t, ok)
}
