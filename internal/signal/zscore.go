// Package signal turns the cross-venue spread series into statistically
// validated trading signals using multi-window rolling z-scores with adaptive
// thresholds.
package signal

import "math"

// RollingZScore maintains a fixed-size window of values and computes the
// z-score of the most recent value against the window's population statistics.
type RollingZScore struct {
	values []float64
	size   int
}

// NewRollingZScore creates a tracker holding at most size values.
func NewRollingZScore(size int) *RollingZScore {
	if size < 2 {
		size = 2
	}
	return &RollingZScore{size: size}
}

// Add appends a value, evicting the oldest when full, and returns the
// z-score of the new value. Fewer than two values, or a zero population
// standard deviation, yields exactly 0.
func (r *RollingZScore) Add(value float64) float64 {
	if len(r.values) == r.size {
		copy(r.values, r.values[1:])
		r.values[len(r.values)-1] = value
	} else {
		r.values = append(r.values, value)
	}
	if len(r.values) < 2 {
		return 0
	}

	mean, std := meanStd(r.values)
	if std == 0 {
		return 0
	}
	return (value - mean) / std
}

// Len returns the number of buffered values.
func (r *RollingZScore) Len() int { return len(r.values) }

// meanStd returns the arithmetic mean and population standard deviation.
func meanStd(values []float64) (mean, std float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / n

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= n
	return mean, math.Sqrt(variance)
}

// fractionalReturns computes (v[i]-v[i-1])/v[i-1] for consecutive values,
// skipping steps whose base is zero.
func fractionalReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		out = append(out, (values[i]-values[i-1])/values[i-1])
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
