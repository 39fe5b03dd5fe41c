package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	evaluations *prometheus.CounterVec
	faultIndex  *prometheus.HistogramVec
	slashed     *prometheus.CounterVec
	slashes     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	priceAge    *prometheus.GaugeVec
}

// New creates a recorder registered on reg, the default registerer when nil.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		evaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundguard_evaluations_total",
				Help: "Operations evaluated by the pipeline",
			},
			[]string{"kind", "outcome"},
		),
		faultIndex: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fundguard_fault_index",
				Help:    "Fault index per domain",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
			[]string{"domain"},
		),
		slashed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundguard_slashed_tokens_total",
				Help: "Stake tokens slashed, by the cap that bound the amount",
			},
			[]string{"bound"},
		),
		slashes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundguard_slashes_total",
				Help: "Executed slashes",
			},
			[]string{"bound"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundguard_state_transitions_total",
				Help: "Investor state transitions",
			},
			[]string{"from", "to"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fundguard_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fundguard_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		priceAge: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fundguard_price_age_seconds",
				Help: "Age of the cached price served for an asset",
			},
			[]string{"asset"},
		),
	}
}

func (r *Recorder) RecordEvaluation(kind, outcome string) {
	r.evaluations.WithLabelValues(kind, outcome).Inc()
}

func (r *Recorder) RecordFaultIndex(domain string, fi int) {
	r.faultIndex.WithLabelValues(domain).Observe(float64(fi))
}

// RecordSlash counts one slash and adds its token amount.
func (r *Recorder) RecordSlash(bound string, amount float64) {
	r.slashes.WithLabelValues(bound).Inc()
	r.slashed.WithLabelValues(bound).Add(amount)
}

func (r *Recorder) RecordTransition(from, to string) {
	r.transitions.WithLabelValues(from, to).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordPriceAge(asset string, seconds float64) {
	r.priceAge.WithLabelValues(asset).Set(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordEvaluation(string, string) {}
func (Nop) RecordFaultIndex(string, int)    {}
func (Nop) RecordSlash(string, float64)     {}
func (Nop) RecordTransition(string, string) {}
func (Nop) RecordError(string)              {}
func (Nop) RecordLatency(string, float64)   {}
func (Nop) RecordPriceAge(string, float64)  {}
