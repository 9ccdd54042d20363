package commit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds metrics shared by cohorts
type Metrics struct {
	phaseDuration *prometheus.HistogramVec
	outcomes      *prometheus.CounterVec
}

// NewMetrics creates cohort metrics
func NewMetrics() *Metrics {
	const (
		namespace = "arbor"
		subsystem = "cohort"
	)

	return &Metrics{
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "phase_duration_seconds",
			Help:      "Histogram of times spent in each commit phase",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 5, 8),
		}, []string{"phase"}),

		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outcomes_total",
			Help:      "Number of finished cohorts by outcome",
		}, []string{"outcome"}),
	}
}

// PrometheusCollectors returns the collectors to register
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.phaseDuration,
		m.outcomes,
	}
}
