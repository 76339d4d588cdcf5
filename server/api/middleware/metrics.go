package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/compose-network/zksafe/metrics"
)

// HTTPMetrics holds API request metrics
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func NewHTTPMetrics() *HTTPMetrics {
	reg := metrics.NewComponentRegistry(metrics.Namespace, "http")

	return &HTTPMetrics{
		RequestsTotal: reg.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "API requests by route, method and status code",
		}, []string{"route", "method", "code"}),

		RequestDuration: reg.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "API request latency by route",
			Buckets: metrics.DurationBuckets,
		}, []string{"route", "method"}),
	}
}

// Metrics records request counts and latency per route template. Install it with
// Router.Use so the matched route is visible on the request.
func Metrics(m *HTTPMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			m.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
			m.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
