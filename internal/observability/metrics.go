package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	envelopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "castctl",
			Subsystem: "conn",
			Name:      "envelopes_total",
			Help:      "Envelopes sent or received per namespace.",
		},
		[]string{"direction", "namespace"},
	)
	frameBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "castctl",
			Subsystem: "conn",
			Name:      "frame_bytes",
			Help:      "Encoded envelope size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 11),
		},
		[]string{"direction"},
	)
	connectionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "castctl",
			Subsystem: "conn",
			Name:      "failures_total",
			Help:      "Fatal connection failures by cause.",
		},
		[]string{"cause"},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "castctl",
			Subsystem: "request",
			Name:      "issued_total",
			Help:      "Requests issued per namespace and message type.",
		},
		[]string{"namespace", "type"},
	)
	requestRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "castctl",
			Subsystem: "request",
			Name:      "retries_total",
			Help:      "Requests resent after the retry interval elapsed.",
		},
		[]string{"namespace"},
	)
	heartbeatTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "castctl",
			Subsystem: "heartbeat",
			Name:      "timeouts_total",
			Help:      "Connections closed by heartbeat liveness expiry.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(envelopes, frameBytes, connectionFailures, requests, requestRetries, heartbeatTimeouts)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordEnvelope(direction, namespace string, size int) {
	RegisterMetrics()
	envelopes.WithLabelValues(direction, namespace).Inc()
	frameBytes.WithLabelValues(direction).Observe(float64(size))
}

func RecordConnectionFailure(cause string) {
	RegisterMetrics()
	connectionFailures.WithLabelValues(cause).Inc()
}

func RecordRequest(namespace, msgType string) {
	RegisterMetrics()
	requests.WithLabelValues(namespace, msgType).Inc()
}

func RecordRequestRetry(namespace string) {
	RegisterMetrics()
	requestRetries.WithLabelValues(namespace).Inc()
}

func RecordHeartbeatTimeout() {
	RegisterMetrics()
	heartbeatTimeouts.Inc()
}
