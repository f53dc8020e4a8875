package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ConnectionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaymq_connection_status",
			Help: "Transport connection status (0=closed,1=connecting,2=connected,3=disconnected,4=closing)",
		},
		[]string{"scheme", "uri"},
	)

	ConnectionReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymq_connection_reconnects_total",
			Help: "Total number of reconnect attempts by scheme",
		},
		[]string{"scheme"},
	)

	// Queue metrics
	QueueStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaymq_queue_status",
			Help: "Transport queue status (0=closed,1=connecting,2=connected,3=disconnected,4=closing)",
		},
		[]string{"queue"},
	)

	QueueMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymq_queue_messages_total",
			Help: "Total number of messages processed by a queue and direction",
		},
		[]string{"queue", "direction"},
	)

	QueueNacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymq_queue_nacks_total",
			Help: "Total number of messages nacked by a queue",
		},
		[]string{"queue"},
	)

	// Manager metrics
	ManagerReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaymq_manager_ready",
			Help: "Whether a manager's queues are all connected (1=ready,0=not ready)",
		},
		[]string{"kind", "id"},
	)

	// Router/bridge metrics
	RoutedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymq_routed_messages_total",
			Help: "Total number of messages routed between endpoints by kind and status",
		},
		[]string{"kind", "status"},
	)

	RoutingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relaymq_routing_latency_seconds",
			Help:    "Time taken to route a message in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ValidationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymq_validation_errors_total",
			Help: "Total number of envelope validation failures by field",
		},
		[]string{"field"},
	)

	// Downlink buffer metrics
	BufferEntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relaymq_buffer_entries_total",
			Help: "Current number of pending downlink buffer entries",
		},
	)

	BufferExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relaymq_buffer_expired_total",
			Help: "Total number of downlink buffer entries dropped for expiry",
		},
	)
)

func init() {
	prometheus.MustRegister(ConnectionStatus)
	prometheus.MustRegister(ConnectionReconnectsTotal)
	prometheus.MustRegister(QueueStatus)
	prometheus.MustRegister(QueueMessagesTotal)
	prometheus.MustRegister(QueueNacksTotal)
	prometheus.MustRegister(ManagerReady)
	prometheus.MustRegister(RoutedMessagesTotal)
	prometheus.MustRegister(RoutingLatency)
	prometheus.MustRegister(ValidationErrorsTotal)
	prometheus.MustRegister(BufferEntriesTotal)
	prometheus.MustRegister(BufferExpiredTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
