package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientMetrics instruments the outbound HTTP clients (price oracle, investor
// registry) per upstream and endpoint.
type ClientMetrics struct {
	latency *prometheus.HistogramVec
	errors  *prometheus.CounterVec
}

func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &ClientMetrics{
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fundguard",
				Subsystem: "client",
				Name:      "latency_seconds",
				Help:      "Latency of upstream calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"upstream", "endpoint"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fundguard",
				Subsystem: "client",
				Name:      "errors_total",
				Help:      "Errors by upstream endpoint",
			},
			[]string{"upstream", "endpoint"},
		),
	}
}

// Observe records one call started at start. A nil receiver is a no-op.
func (m *ClientMetrics) Observe(upstream, endpoint string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(upstream, endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		m.errors.WithLabelValues(upstream, endpoint).Inc()
	}
}
