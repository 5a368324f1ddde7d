package comm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts transport traffic for one World. Each World registers on its
// own registry so that many worlds can exist in one process
type Metrics struct {
	Registry *prometheus.Registry

	Messages *prometheus.CounterVec
	Bytes    *prometheus.CounterVec
	WaitTime prometheus.Histogram
}

// NewMetrics creates the transport counters on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ldumesh_comm_messages_total",
			Help: "Number of messages sent, by kind",
		}, []string{"kind"}),
		Bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ldumesh_comm_bytes_total",
			Help: "Payload bytes sent, by kind",
		}, []string{"kind"}),
		WaitTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ldumesh_comm_wait_seconds",
			Help:    "Time spent in WaitRequests",
			Buckets: prometheus.ExponentialBuckets(1e-6, 10, 8),
		}),
	}
}

func (m *Metrics) sent(kind string, n int) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(kind).Inc()
	m.Bytes.WithLabelValues(kind).Add(float64(n))
}
