package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	pollsTotal    *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	staleWrites   *prometheus.CounterVec
	signalsTotal  *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		pollsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantpull_polls_total",
				Help: "Total number of completed poll cycles per data kind",
			},
			[]string{"kind"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		staleWrites: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantpull_stale_writes_total",
				Help: "Cache writes rejected for carrying a stale timestamp",
			},
			[]string{"kind"},
		),
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantpull_signals_total",
				Help: "Signals emitted per symbol and action",
			},
			[]string{"symbol", "action"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quantpull_last_price",
				Help: "Last observed price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordPoll records one completed poll cycle for a data kind.
func (r *Recorder) RecordPoll(kind string) {
	r.pollsTotal.WithLabelValues(kind).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordStaleWrite records a cache write rejected as stale.
func (r *Recorder) RecordStaleWrite(kind string) {
	r.staleWrites.WithLabelValues(kind).Inc()
}

// RecordSignal records an emitted signal.
func (r *Recorder) RecordSignal(symbol, action string) {
	r.signalsTotal.WithLabelValues(symbol, action).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
