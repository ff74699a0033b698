package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the api service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	WSConnections        prometheus.Gauge
	MessagesSent         *prometheus.CounterVec
	CallTransitions      *prometheus.CounterVec
	PushFailures         *prometheus.CounterVec
	NotificationsCreated *prometheus.CounterVec
	CallbacksReminded    prometheus.Counter
	DispatchRejected     prometheus.Counter
	HandlerDuration      *prometheus.HistogramVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Open WebSocket connections on this instance.",
			}),
			MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Chat messages persisted, by message type.",
			}, []string{"type"}),
			CallTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "call_transitions_total",
				Help:      "Call state transitions by target status and outcome.",
			}, []string{"to", "outcome"}),
			PushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "push_failures_total",
				Help:      "Failed external push deliveries by channel.",
			}, []string{"channel"}),
			NotificationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_created_total",
				Help:      "Notifications persisted by type.",
			}, []string{"type"}),
			CallbacksReminded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "callbacks_reminded_total",
				Help:      "Due callbacks the reminder notified sellers about.",
			}),
			DispatchRejected: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_rejected_total",
				Help:      "Realtime events rejected because a room queue was full.",
			}),
			HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Latency of realtime and REST operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
		}

		prometheus.MustRegister(
			metricsInstance.WSConnections,
			metricsInstance.MessagesSent,
			metricsInstance.CallTransitions,
			metricsInstance.PushFailures,
			metricsInstance.NotificationsCreated,
			metricsInstance.CallbacksReminded,
			metricsInstance.DispatchRejected,
			metricsInstance.HandlerDuration,
		)
	})
	return metricsInstance
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.WSConnections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.WSConnections.Dec()
	}
}

func (m *Metrics) MessageSent(messageType string) {
	if m != nil {
		m.MessagesSent.WithLabelValues(messageType).Inc()
	}
}

func (m *Metrics) CallTransition(to string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	m.CallTransitions.WithLabelValues(to, outcome).Inc()
}

func (m *Metrics) PushFailed(channel string) {
	if m != nil {
		m.PushFailures.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) NotificationCreated(notificationType string) {
	if m != nil {
		m.NotificationsCreated.WithLabelValues(notificationType).Inc()
	}
}

func (m *Metrics) CallbackReminded() {
	if m != nil {
		m.CallbacksReminded.Inc()
	}
}

func (m *Metrics) DispatchRejectedInc() {
	if m != nil {
		m.DispatchRejected.Inc()
	}
}

// ObserveSince: defer m.ObserveSince("send_message", time.Now()).
func (m *Metrics) ObserveSince(op string, start time.Time) {
	if m != nil {
		m.HandlerDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
