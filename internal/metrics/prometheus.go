// Package metrics exposes run counters and gauges through Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder publishes trading metrics to the default Prometheus registry.
type Recorder struct {
	tradesTotal     *prometheus.CounterVec
	rejectionsTotal *prometheus.CounterVec
	nakedExposure   prometheus.Counter
	cumulativePnL   prometheus.Gauge
	spreadZ         *prometheus.GaugeVec
	bookUpdates     *prometheus.CounterVec
	execLatency     *prometheus.HistogramVec
}

// New creates a Recorder registered with the default registry. Construct it
// once per process.
func New() *Recorder {
	return &Recorder{
		tradesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossarb_trades_total",
				Help: "Completed two-leg trades by symbol and outcome",
			},
			[]string{"symbol", "outcome"},
		),
		rejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossarb_rejections_total",
				Help: "Trade candidates rejected before execution, by stage",
			},
			[]string{"symbol", "stage"},
		),
		nakedExposure: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crossarb_naked_exposure_total",
				Help: "Times a second leg failed and the unwind also failed",
			},
		),
		cumulativePnL: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crossarb_cumulative_pnl",
				Help: "Cumulative realized PnL in quote currency",
			},
		),
		spreadZ: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crossarb_spread_zscore",
				Help: "Latest selected spread z-score per symbol",
			},
			[]string{"symbol"},
		),
		bookUpdates: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crossarb_book_updates_total",
				Help: "Orderbook updates applied per venue",
			},
			[]string{"venue"},
		),
		execLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crossarb_execution_duration_seconds",
				Help:    "Wall time of one venue execution including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"venue"},
		),
	}
}

// RecordTrade counts one completed trade. Outcome is "win" or "loss".
func (r *Recorder) RecordTrade(symbol, outcome string) {
	r.tradesTotal.WithLabelValues(symbol, outcome).Inc()
}

// RecordRejection counts a candidate stopped at the named pipeline stage.
func (r *Recorder) RecordRejection(symbol, stage string) {
	r.rejectionsTotal.WithLabelValues(symbol, stage).Inc()
}

// RecordNakedExposure counts a failed unwind after a failed second leg.
func (r *Recorder) RecordNakedExposure() {
	r.nakedExposure.Inc()
}

// SetCumulativePnL publishes the running PnL total.
func (r *Recorder) SetCumulativePnL(pnl float64) {
	r.cumulativePnL.Set(pnl)
}

// SetSpreadZ publishes the latest selected z-score for a symbol.
func (r *Recorder) SetSpreadZ(symbol string, z float64) {
	r.spreadZ.WithLabelValues(symbol).Set(z)
}

// RecordBookUpdate counts one applied orderbook update.
func (r *Recorder) RecordBookUpdate(venue string) {
	r.bookUpdates.WithLabelValues(venue).Inc()
}

// RecordExecutionLatency observes one execution's wall time in seconds.
func (r *Recorder) RecordExecutionLatency(venue string, seconds float64) {
	r.execLatency.WithLabelValues(venue).Observe(seconds)
}
