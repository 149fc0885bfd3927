package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avawsgw/internal/observability"
)

// Metrics holds Prometheus metrics for cache operations.
type Metrics struct {
	hitsTotal         *prometheus.CounterVec
	missesTotal       *prometheus.CounterVec
	evictionsTotal    *prometheus.CounterVec
	sizeGauge         *prometheus.GaugeVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
}

// NewMetrics creates unregistered cache metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = observability.DefaultNamespace
	}

	return &Metrics{
		hitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authorizer_cache",
				Name:      "hits_total",
				Help:      "Total number of authorizer cache hits",
			},
			[]string{"backend"},
		),
		missesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authorizer_cache",
				Name:      "misses_total",
				Help:      "Total number of authorizer cache misses",
			},
			[]string{"backend"},
		),
		evictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authorizer_cache",
				Name:      "evictions_total",
				Help:      "Total number of entries evicted to honor maxEntries",
			},
			[]string{"backend"},
		),
		sizeGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "authorizer_cache",
				Name:      "size",
				Help:      "Current number of entries in the authorizer cache",
			},
			[]string{"backend"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "authorizer_cache",
				Name:      "operation_duration_seconds",
				Help:      "Duration of authorizer cache operations",
				Buckets: []float64{
					.0001, .0005, .001, .005,
					.01, .025, .05, .1,
				},
			},
			[]string{"backend", "operation"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authorizer_cache",
				Name:      "errors_total",
				Help:      "Total number of authorizer cache errors",
			},
			[]string{"backend", "operation"},
		),
	}
}

// MustRegister registers all cache metric collectors with registry.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.hitsTotal,
		m.missesTotal,
		m.evictionsTotal,
		m.sizeGauge,
		m.operationDuration,
		m.errorsTotal,
	)
}

// Init pre-initializes common label combinations with zero values so that
// metrics appear in /metrics output immediately after startup.
func (m *Metrics) Init(backend string) {
	m.hitsTotal.WithLabelValues(backend)
	m.missesTotal.WithLabelValues(backend)
	m.evictionsTotal.WithLabelValues(backend)
	m.sizeGauge.WithLabelValues(backend)
	for _, op := range []string{"get", "set", "delete", "exists"} {
		m.operationDuration.WithLabelValues(backend, op)
		m.errorsTotal.WithLabelValues(backend, op)
	}
}
