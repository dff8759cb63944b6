// Package metrics provides Prometheus metrics for the PLC bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics for the service.
type Registry struct {
	// Session metrics
	SessionConnected  prometheus.Gauge
	ConnectAttempts   *prometheus.CounterVec
	ConnectLatency    prometheus.Histogram
	ConnectionsLost   prometheus.Counter
	BreakerTransition *prometheus.CounterVec

	// Access metrics
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec
	BytesTransferred  *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec

	// Polling metrics
	PollCycles    *prometheus.CounterVec
	PollDuration  prometheus.Histogram
	TagReadErrors prometheus.Counter

	// MQTT metrics
	MQTTPublished      *prometheus.CounterVec
	MQTTPublishLatency prometheus.Histogram
}

// NewRegistry creates the metrics and registers them with reg. A nil reg
// uses the default Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Registry{
		SessionConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "plcbridge",
			Subsystem: "session",
			Name:      "connected",
			Help:      "1 when the PLC session is connected",
		}),
		ConnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plcbridge",
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Total number of PLC connection attempts",
		}, []string{"result"}),
		ConnectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "plcbridge",
			Subsystem: "session",
			Name:      "connect_latency_seconds",
			Help:      "PLC connection establishment latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ConnectionsLost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plcbridge",
			Subsystem: "session",
			Name:      "connections_lost_total",
			Help:      "Sessions found dropped by the transport",
		}),
		BreakerTransition: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plcbridge",
			Subsystem: "session",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state changes",
		}, []string{"to"}),

		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plcbridge",
			Subsystem: "access",
			Name:      "operations_total",
			Help:      "Total number of PLC read/write operations",
		}, []string{"op", "area", "status"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "plcbridge",
			Subsystem: "access",
			Name:      "duration_seconds",
			Help:      "PLC read/write duration including lock wait",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"op"}),
		OperationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plcbridge",
			Subsystem: "access",
			Name:      "errors_total",
			Help:      "Failed operations by error kind",
		}, []string{"kind"}),
		BytesTransferred: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plcbridge",
			Subsystem: "access",
			Name:      "bytes_total",
			Help:      "Bytes read from or written to the PLC",
		}, []string{"op"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plcbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP API requests by route and status code",
		}, []string{"route", "code"}),

		PollCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plcbridge",
			Subsystem: "polling",
			Name:      "cycles_total",
			Help:      "Tag poll cycles by result",
		}, []string{"result"}),
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "plcbridge",
			Subsystem: "polling",
			Name:      "duration_seconds",
			Help:      "Duration of a tag poll cycle",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		TagReadErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plcbridge",
			Subsystem: "polling",
			Name:      "tag_errors_total",
			Help:      "Tag reads that failed during polling",
		}),

		MQTTPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plcbridge",
			Subsystem: "mqtt",
			Name:      "messages_published_total",
			Help:      "Session events published to the MQTT broker",
		}, []string{"status"}),
		MQTTPublishLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "plcbridge",
			Subsystem: "mqtt",
			Name:      "publish_latency_seconds",
			Help:      "MQTT publish latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// RecordConnect records a connection attempt.
func (r *Registry) RecordConnect(success bool, latency float64) {
	if r == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	r.ConnectAttempts.WithLabelValues(result).Inc()
	r.ConnectLatency.Observe(latency)
}

// SetConnected updates the session gauge.
func (r *Registry) SetConnected(connected bool) {
	if r == nil {
		return
	}
	if connected {
		r.SessionConnected.Set(1)
	} else {
		r.SessionConnected.Set(0)
	}
}

// RecordConnectionLost counts a session the transport dropped silently.
func (r *Registry) RecordConnectionLost() {
	if r == nil {
		return
	}
	r.ConnectionsLost.Inc()
}

// RecordBreakerState records a circuit breaker transition.
func (r *Registry) RecordBreakerState(to string) {
	if r == nil {
		return
	}
	r.BreakerTransition.WithLabelValues(to).Inc()
}

// RecordOperation records a finished read or write. errorKind is empty on success.
func (r *Registry) RecordOperation(op, area, errorKind string, bytes int, duration float64) {
	if r == nil {
		return
	}
	status := "success"
	if errorKind != "" {
		status = "error"
		r.OperationErrors.WithLabelValues(errorKind).Inc()
	} else {
		r.BytesTransferred.WithLabelValues(op).Add(float64(bytes))
	}
	r.Operations.WithLabelValues(op, area, status).Inc()
	r.OperationDuration.WithLabelValues(op).Observe(duration)
}

// RecordHTTPRequest records a served API request.
func (r *Registry) RecordHTTPRequest(route, code string) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(route, code).Inc()
}

// RecordPoll records a finished poll cycle.
func (r *Registry) RecordPoll(result string, duration float64, tagErrors int) {
	if r == nil {
		return
	}
	r.PollCycles.WithLabelValues(result).Inc()
	r.PollDuration.Observe(duration)
	r.TagReadErrors.Add(float64(tagErrors))
}

// RecordMQTTPublish records a publish to the MQTT broker.
func (r *Registry) RecordMQTTPublish(success bool, latency float64) {
	if r == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	r.MQTTPublished.WithLabelValues(status).Inc()
	r.MQTTPublishLatency.Observe(latency)
}
