package proofs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/zksafe/metrics"
)

// Metrics holds proof aggregation metrics
type Metrics struct {
	AggregationsTotal   *prometheus.CounterVec
	AggregationDuration prometheus.Histogram
	AggregationSize     prometheus.Histogram
	CombinationsTotal   *prometheus.CounterVec
	CombinationDuration prometheus.Histogram
}

// NewMetrics creates proof aggregation metrics
func NewMetrics() *Metrics {
	reg := metrics.NewComponentRegistry(metrics.Namespace, "proofs")

	return &Metrics{
		AggregationsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregations_total",
			Help: "Aggregation runs by result",
		}, []string{"result"}),

		AggregationDuration: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "aggregation_duration_seconds",
			Help:    "Wall time of a full aggregation",
			Buckets: metrics.DurationBuckets,
		}),

		AggregationSize: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "aggregation_proofs",
			Help:    "Number of proofs folded per aggregation",
			Buckets: metrics.CountBuckets,
		}),

		CombinationsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "combinations_total",
			Help: "Pairwise combinator invocations by result",
		}, []string{"result"}),

		CombinationDuration: reg.NewHistogram(prometheus.HistogramOpts{
			Name:    "combination_duration_seconds",
			Help:    "Duration of one combinator step",
			Buckets: metrics.DurationBuckets,
		}),
	}
}

func (m *Metrics) RecordAggregation(ok bool, proofs int, d time.Duration) {
	m.AggregationsTotal.WithLabelValues(result(ok)).Inc()
	m.AggregationDuration.Observe(d.Seconds())
	m.AggregationSize.Observe(float64(proofs))
}

func (m *Metrics) RecordCombination(ok bool, d time.Duration) {
	m.CombinationsTotal.WithLabelValues(result(ok)).Inc()
	m.CombinationDuration.Observe(d.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
