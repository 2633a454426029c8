package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the relay.
type Metrics struct {
	// Ingestion metrics
	PacketsReceived prometheus.Counter
	BytesReceived   prometheus.Counter
	ReceiveErrors   prometheus.Counter
	Throughput      prometheus.Gauge

	// Buffer metrics
	BufferPackets prometheus.Gauge
	BufferBytes   prometheus.Gauge

	// Control-plane metrics
	ActiveConnections prometheus.Gauge
	ActiveStreams     prometheus.Gauge
	Followers         prometheus.Gauge
	EventsDispatched  *prometheus.CounterVec
	SendsDropped      prometheus.Counter

	// Admission metrics
	AdmissionDenied *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all relay metrics with the given
// registerer. Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_packets_received_total",
			Help: "Total number of datagrams ingested",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_bytes_received_total",
			Help: "Total payload bytes ingested",
		}),
		ReceiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_receive_errors_total",
			Help: "Total transport-level receive errors",
		}),
		Throughput: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_ingest_bytes_per_second",
			Help: "Ingestion throughput over the last one-second window",
		}),

		BufferPackets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_buffer_packets",
			Help: "Current number of packets held in the buffer",
		}),
		BufferBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_buffer_bytes",
			Help: "Current total payload bytes held in the buffer",
		}),

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_connections",
			Help: "Current number of control-plane connections",
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_streams",
			Help: "Current number of live stream sessions",
		}),
		Followers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_followers",
			Help: "Current number of follower registrations",
		}),
		EventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_dispatched_total",
			Help: "Control-plane events processed, by type",
		}, []string{"type"}),
		SendsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sends_dropped_total",
			Help: "Outbound messages dropped because a client send queue was full",
		}),

		AdmissionDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_admission_denied_total",
			Help: "Admission-control denials, by gate",
		}, []string{"gate"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "HTTP API requests, by method, endpoint and status",
		}, []string{"method", "endpoint", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_errors_total",
			Help: "HTTP API error responses, by method, endpoint and class",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordHTTPRequest records one HTTP API request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, duration float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordHTTPError records one HTTP API error response.
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
