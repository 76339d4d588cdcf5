package proposal

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/zksafe/metrics"
)

// Metrics holds proposal metrics
type Metrics struct {
	ProofsTotal     *prometheus.CounterVec
	ApprovalsTotal  *prometheus.CounterVec
	ExecutionsTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := metrics.NewComponentRegistry(metrics.Namespace, "proposal")

	return &Metrics{
		ProofsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "proofs_total",
			Help: "Proof submissions by result",
		}, []string{"result"}),

		ApprovalsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_total",
			Help: "Server-side approval proof generations by result",
		}, []string{"result"}),

		ExecutionsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "executions_total",
			Help: "Safe transaction executions by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordProof(result string) {
	m.ProofsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordApproval(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.ApprovalsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordExecution(outcome string) {
	m.ExecutionsTotal.WithLabelValues(outcome).Inc()
}
