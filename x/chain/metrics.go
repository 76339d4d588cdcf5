package chain

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/zksafe/metrics"
)

// Metrics holds chain client metrics
type Metrics struct {
	ReadsTotal   *prometheus.CounterVec
	ReadDuration *prometheus.HistogramVec
	WritesTotal  *prometheus.CounterVec
}

// NewMetrics creates chain client metrics
func NewMetrics() *Metrics {
	reg := metrics.NewComponentRegistry(metrics.Namespace, "chain")

	return &Metrics{
		ReadsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "reads_total",
			Help: "Contract reads by method and result",
		}, []string{"method", "result"}),

		ReadDuration: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "read_duration_seconds",
			Help:    "Duration of contract reads including retries",
			Buckets: metrics.DurationBuckets,
		}, []string{"method"}),

		WritesTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "writes_total",
			Help: "Transactions submitted by method and result",
		}, []string{"method", "result"}),
	}
}

func (m *Metrics) ObserveRead(method string, d time.Duration, err error) {
	m.ReadsTotal.WithLabelValues(method, result(err == nil)).Inc()
	m.ReadDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) RecordWrite(method string, ok bool) {
	m.WritesTotal.WithLabelValues(method, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
