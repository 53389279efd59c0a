package signal

import "time"

// point is one observation in a time-bounded buffer.
type point struct {
	ts    time.Time
	value float64
}

// WindowBuffer holds a time-ordered sequence of spread observations bounded
// by elapsed duration. It belongs to exactly one (symbol, window) pair and is
// never shared across symbols.
type WindowBuffer struct {
	window time.Duration
	points []point
}

// NewWindowBuffer creates a buffer evicting entries older than window.
func NewWindowBuffer(window time.Duration) *WindowBuffer {
	return &WindowBuffer{window: window}
}

// Add evicts entries older than ts-window, then appends (ts, value).
func (w *WindowBuffer) Add(ts time.Time, value float64) {
	cutoff := ts.Add(-w.window)
	i := 0
	for i < len(w.points) && !w.points[i].ts.After(cutoff) {
		i++
	}
	if i > 0 {
		w.points = w.points[i:]
	}
	w.points = append(w.points, point{ts: ts, value: value})
}

// Len returns the number of buffered observations.
func (w *WindowBuffer) Len() int { return len(w.points) }

// Values returns a copy of the buffered values oldest-first.
func (w *WindowBuffer) Values() []float64 {
	out := make([]float64, len(w.points))
	for i, p := range w.points {
		out[i] = p.value
	}
	return out
}
