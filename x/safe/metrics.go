package safe

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/zksafe/metrics"
)

// Metrics holds Safe lifecycle metrics
type Metrics struct {
	PrecomputesTotal *prometheus.CounterVec
	SignaturesTotal  *prometheus.CounterVec
	DeploymentsTotal *prometheus.CounterVec
}

// NewMetrics creates Safe lifecycle metrics
func NewMetrics() *Metrics {
	reg := metrics.NewComponentRegistry(metrics.Namespace, "safe")

	return &Metrics{
		PrecomputesTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "precomputes_total",
			Help: "Owner address precomputations by result",
		}, []string{"result"}),

		SignaturesTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "signatures_total",
			Help: "Creation signatures by result",
		}, []string{"result"}),

		DeploymentsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "deployments_total",
			Help: "Deployment attempts by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordPrecompute(ok bool) {
	m.PrecomputesTotal.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) RecordSignature(ok bool) {
	m.SignaturesTotal.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) RecordDeployment(result string) {
	m.DeploymentsTotal.WithLabelValues(result).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "accepted"
	}
	return "rejected"
}
