package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	promOnce      sync.Once
	promSingleton *promMetrics
)

type promMetrics struct {
	apiCalls   *prometheus.CounterVec
	apiLatency prometheus.Histogram
	orderSyncs *prometheus.CounterVec
}

// registerPromMetrics registers the pipeline collectors exactly once; the
// same set is shared by every Collector in the process.
func registerPromMetrics() *promMetrics {
	promOnce.Do(func() {
		m := &promMetrics{
			apiCalls: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "palm_fulfillment",
					Name:      "api_calls_total",
					Help:      "Commerce API calls by result.",
				},
				[]string{"result"},
			),
			apiLatency: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "palm_fulfillment",
					Name:      "api_call_duration_seconds",
					Help:      "Commerce API call latency.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			orderSyncs: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "palm_fulfillment",
					Name:      "order_syncs_total",
					Help:      "Terminal order sync outcomes by result.",
				},
				[]string{"result"},
			),
		}
		prometheus.MustRegister(m.apiCalls, m.apiLatency, m.orderSyncs)
		promSingleton = m
	})
	return promSingleton
}

func (m *promMetrics) observeAPICall(success bool, latency time.Duration) {
	m.apiCalls.WithLabelValues(result(success)).Inc()
	m.apiLatency.Observe(latency.Seconds())
}

func (m *promMetrics) observeOrderSync(success bool) {
	m.orderSyncs.WithLabelValues(result(success)).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
