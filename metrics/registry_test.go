package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestComponentRegistryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewComponentRegistryWith(reg, "", "safe").NewCounterVec(prometheus.CounterOpts{
		Name: "signatures_total",
		Help: "help",
	}, []string{"result"})
	second := NewComponentRegistryWith(reg, "", "safe").NewCounterVec(prometheus.CounterOpts{
		Name: "signatures_total",
		Help: "help",
	}, []string{"result"})

	first.WithLabelValues("ok").Inc()
	second.WithLabelValues("ok").Inc()

	require.Equal(t, 2.0, testutil.ToFloat64(first.WithLabelValues("ok")))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	require.Equal(t, "zksafe_safe_signatures_total", families[0].GetName())
}

func TestComponentRegistryNilRegisterer(t *testing.T) {
	c := NewComponentRegistryWith(nil, "custom", "x").NewGauge(prometheus.GaugeOpts{Name: "g", Help: "h"})
	c.Set(3)
	require.Equal(t, 3.0, testutil.ToFloat64(c))
}
