package shard

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds metrics for a set of shards. Every metric
// is labeled by shard name so one instance can be shared.
type Metrics struct {
	reads          *prometheus.CounterVec
	votes          *prometheus.CounterVec
	commits        *prometheus.CounterVec
	aborts         *prometheus.CounterVec
	commitDuration *prometheus.HistogramVec
	mailboxDepth   *prometheus.GaugeVec
	queueDepth     *prometheus.GaugeVec
}

// NewMetrics creates shard metrics
func NewMetrics() *Metrics {
	const (
		namespace = "arbor"
		subsystem = "shard"
	)

	labels := []string{"shard"}

	return &Metrics{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reads_total",
			Help:      "Number of reads served",
		}, labels),

		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "votes_total",
			Help:      "Number of canCommit votes cast by vote",
		}, append(labels, "vote")),

		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commits_total",
			Help:      "Number of commits applied by outcome",
		}, append(labels, "outcome")),

		aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "aborts_total",
			Help:      "Number of commits dropped before being applied by reason",
		}, append(labels, "reason")),

		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commit_duration_seconds",
			Help:      "Histogram of times spent between a yes vote and the end of a commit",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 5, 8),
		}, labels),

		mailboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mailbox_depth",
			Help:      "Number of requests waiting in the mailbox",
		}, labels),

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commit_queue_depth",
			Help:      "Number of commits queued, including the active one",
		}, labels),
	}
}

// PrometheusCollectors returns the collectors to register
func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.reads,
		m.votes,
		m.commits,
		m.aborts,
		m.commitDuration,
		m.mailboxDepth,
		m.queueDepth,
	}
}
