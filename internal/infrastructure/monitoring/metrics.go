package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GriffinCanCode/ptyd/internal/providers/terminal"
)

const namespace = "ptyd"

// Metrics holds all Prometheus metrics. It implements terminal.Observer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Session metrics
	SessionsActive     prometheus.Gauge
	SessionsCreated    prometheus.Counter
	SessionsTerminated *prometheus.CounterVec

	// Byte flow through the PTYs
	BytesIn      prometheus.Counter
	BytesOut     prometheus.Counter
	BytesDropped prometheus.Counter

	// Session operations
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Tool calls
	ServiceCalls    *prometheus.CounterVec
	ServiceDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	gatherer prometheus.Gatherer

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON health endpoint.
type Snapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveSessions    int64   `json:"active_sessions"`
	ActiveConnections int64   `json:"active_connections"`
	AverageLatencyMS  float64 `json:"average_latency_ms"`
	UptimeSeconds     float64 `json:"uptime_seconds"`

	totalDuration float64
}

// NewMetrics registers every collector with reg. Pass
// prometheus.NewRegistry() for an isolated set, as tests do.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		startTime: time.Now(),
		gatherer:  reg,

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of running terminal sessions",
			},
		),
		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Total number of terminal sessions started",
			},
		),
		SessionsTerminated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_terminated_total",
				Help:      "Total number of terminal sessions ended, by reason",
			},
			[]string{"reason"},
		),

		BytesIn: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pty_input_bytes_total",
				Help:      "Bytes written to PTYs",
			},
		),
		BytesOut: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pty_output_bytes_total",
				Help:      "Bytes read from PTYs",
			},
		),
		BytesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pty_output_dropped_bytes_total",
				Help:      "Output bytes discarded because a buffer was full",
			},
		),

		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_operations_total",
				Help:      "Session operations by outcome code",
			},
			[]string{"op", "code"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_operation_duration_seconds",
				Help:      "Session operation duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"op"},
		),

		ServiceCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_calls_total",
				Help:      "Total number of tool calls",
			},
			[]string{"tool", "status"},
		),
		ServiceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "service_duration_seconds",
				Help:      "Tool call duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"tool"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections",
				Help:      "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Gatherer returns the registry the metrics were registered with.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.gatherer
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.totalDuration += duration.Seconds()
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordServiceCall records a tool call.
func (m *Metrics) RecordServiceCall(tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ServiceCalls.WithLabelValues(tool, status).Inc()
	m.ServiceDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// SessionStarted implements terminal.Observer.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
	m.SessionsActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveSessions++
	m.mu.Unlock()
}

// SessionEnded implements terminal.Observer.
func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.SessionsTerminated.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveSessions--
	m.mu.Unlock()
}

// OutputBytes implements terminal.Observer.
func (m *Metrics) OutputBytes(n int) {
	if m != nil && n > 0 {
		m.BytesOut.Add(float64(n))
	}
}

// InputBytes implements terminal.Observer.
func (m *Metrics) InputBytes(n int) {
	if m != nil && n > 0 {
		m.BytesIn.Add(float64(n))
	}
}

// DroppedBytes implements terminal.Observer.
func (m *Metrics) DroppedBytes(n int) {
	if m != nil && n > 0 {
		m.BytesDropped.Add(float64(n))
	}
}

// Operation implements terminal.Observer. Outcomes are labelled with the
// stable error code, "ok" on success.
func (m *Metrics) Operation(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	code := "ok"
	if err != nil {
		code = terminal.Code(err)
	}
	m.Operations.WithLabelValues(op, code).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Snapshot returns the current values for the JSON API.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()

	if s.TotalRequests > 0 {
		s.AverageLatencyMS = s.totalDuration / float64(s.TotalRequests) * 1000
	}
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

var _ terminal.Observer = (*Metrics)(nil)
