package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every gateway metric.
const DefaultNamespace = "wsgateway"

// Outcome label values shared by the dispatch and invocation metrics.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	connectionsTotal  *prometheus.CounterVec
	connectionsActive prometheus.Gauge
	messagesReceived  prometheus.Counter
	messagesSent      prometheus.Counter
	routeInvocations  *prometheus.CounterVec
	routeDuration     *prometheus.HistogramVec
	functionCalls     *prometheus.CounterVec
	functionDuration  *prometheus.HistogramVec
	authorizations    *prometheus.CounterVec
	timeoutsFired     *prometheus.CounterVec
	errorFrames       prometheus.Counter
	throttledMessages prometheus.Counter
	circuitBreaker    *prometheus.GaugeVec
	configReloads     *prometheus.CounterVec
	buildInfo         *prometheus.GaugeVec
	startTime         prometheus.Gauge
	registry          *prometheus.Registry
}

// NewMetrics creates a new Metrics instance backed by its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of WebSocket connection attempts by result",
		},
		[]string{"result"},
	)

	m.connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of registered WebSocket connections",
		},
	)

	m.messagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of inbound WebSocket messages",
		},
	)

	m.messagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of outbound WebSocket messages",
		},
	)

	m.routeInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_invocations_total",
			Help:      "Total number of route handler dispatches",
		},
		[]string{"route", "outcome"},
	)

	m.routeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_invocation_duration_seconds",
			Help:      "Route handler dispatch duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"route"},
	)

	m.functionCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "function_invocations_total",
			Help:      "Total number of handler function invocations",
		},
		[]string{"function", "outcome"},
	)

	m.functionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "function_invocation_duration_seconds",
			Help:      "Handler function invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"function"},
	)

	m.authorizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorizations_total",
			Help:      "Total number of connect authorization decisions by state",
		},
		[]string{"state"},
	)

	m.timeoutsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeouts_total",
			Help:      "Total number of connection timeouts fired by kind",
		},
		[]string{"kind"},
	)

	m.errorFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_frames_total",
			Help:      "Total number of internal error frames sent to clients",
		},
	)

	m.throttledMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_messages_total",
			Help:      "Total number of inbound messages dropped by the per-connection throttle",
		},
	)

	m.circuitBreaker = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help: "Function circuit breaker state " +
				"(0=closed, 1=half-open, 2=open)",
		},
		[]string{"function"},
	)

	m.configReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Total number of route table reloads by result",
		},
		[]string{"result"},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for the gateway",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.startTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Start time of the gateway in unix seconds",
		},
	)

	m.registerCollectors()

	m.startTime.SetToCurrentTime()

	return m
}

// registerCollectors registers all metric collectors with the
// Prometheus registry.
func (m *Metrics) registerCollectors() {
	m.registry.MustRegister(
		m.connectionsTotal,
		m.connectionsActive,
		m.messagesReceived,
		m.messagesSent,
		m.routeInvocations,
		m.routeDuration,
		m.functionCalls,
		m.functionDuration,
		m.authorizations,
		m.timeoutsFired,
		m.errorFrames,
		m.throttledMessages,
		m.circuitBreaker,
		m.configReloads,
		m.buildInfo,
		m.startTime,
	)

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)
}

// InitVecMetrics pre-populates common label combinations with zero
// values so that Vec metrics appear in /metrics output immediately
// after startup.
func (m *Metrics) InitVecMetrics() {
	for _, result := range []string{"accepted", "rejected"} {
		m.connectionsTotal.WithLabelValues(result)
	}
	for _, kind := range []string{"idle", "hard"} {
		m.timeoutsFired.WithLabelValues(kind)
	}
	for _, result := range []string{OutcomeSuccess, OutcomeError} {
		m.configReloads.WithLabelValues(result)
	}
}

// RecordConnection records a connect attempt; accepted attempts also
// raise the active gauge.
func (m *Metrics) RecordConnection(accepted bool) {
	if accepted {
		m.connectionsTotal.WithLabelValues("accepted").Inc()
		m.connectionsActive.Inc()
		return
	}
	m.connectionsTotal.WithLabelValues("rejected").Inc()
}

// RecordDisconnect lowers the active connection gauge.
func (m *Metrics) RecordDisconnect() {
	m.connectionsActive.Dec()
}

// RecordMessageReceived counts an inbound message.
func (m *Metrics) RecordMessageReceived() {
	m.messagesReceived.Inc()
}

// RecordMessageSent counts an outbound message.
func (m *Metrics) RecordMessageSent() {
	m.messagesSent.Inc()
}

// RecordRouteInvocation records a completed route dispatch.
func (m *Metrics) RecordRouteInvocation(route, outcome string, duration time.Duration) {
	m.routeInvocations.WithLabelValues(route, outcome).Inc()
	m.routeDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordFunctionInvocation records a handler function invocation.
func (m *Metrics) RecordFunctionInvocation(function, outcome string, duration time.Duration) {
	m.functionCalls.WithLabelValues(function, outcome).Inc()
	m.functionDuration.WithLabelValues(function).Observe(duration.Seconds())
}

// RecordAuthorization records an authorization decision.
func (m *Metrics) RecordAuthorization(state string) {
	m.authorizations.WithLabelValues(state).Inc()
}

// RecordTimeout records a fired connection timeout.
func (m *Metrics) RecordTimeout(kind string) {
	m.timeoutsFired.WithLabelValues(kind).Inc()
}

// RecordErrorFrame counts an internal error frame sent to a client.
func (m *Metrics) RecordErrorFrame() {
	m.errorFrames.Inc()
}

// RecordThrottled counts a message dropped by the throttle.
func (m *Metrics) RecordThrottled() {
	m.throttledMessages.Inc()
}

// SetCircuitBreakerState sets the circuit breaker state for a function.
func (m *Metrics) SetCircuitBreakerState(function string, state int) {
	m.circuitBreaker.WithLabelValues(function).Set(float64(state))
}

// RecordConfigReload records a route table reload attempt.
func (m *Metrics) RecordConfigReload(success bool) {
	if success {
		m.configReloads.WithLabelValues(OutcomeSuccess).Inc()
		return
	}
	m.configReloads.WithLabelValues(OutcomeError).Inc()
}

// SetBuildInfo sets the build information metric.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterCollector registers an additional collector with the custom
// registry so that it is served by Handler.
func (m *Metrics) RegisterCollector(c prometheus.Collector) error {
	return m.registry.Register(c)
}
