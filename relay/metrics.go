package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects relay counters. A nil *Metrics is valid and records
// nothing, so the executor works unchanged in tests.
type Metrics struct {
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	duration         *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "busrelay",
			Name:      "messages_sent_total",
			Help:      "Messages transmitted on the send path, by outcome.",
		}, []string{"destination", "outcome"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "busrelay",
			Name:      "messages_received_total",
			Help:      "Messages fetched on the receive path, by post-processing action.",
		}, []string{"destination", "action"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "busrelay",
			Name:      "operation_duration_seconds",
			Help:      "Duration of relay operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.messagesSent, m.messagesReceived, m.duration)
	return m
}

func (m *Metrics) sent(destination, outcome string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(destination, outcome).Inc()
}

func (m *Metrics) received(destination, action string, n int) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(destination, action).Add(float64(n))
}

func (m *Metrics) observe(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
