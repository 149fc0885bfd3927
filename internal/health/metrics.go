package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for readiness checks.
type Metrics struct {
	checksTotal *prometheus.CounterVec
	checkStatus *prometheus.GaugeVec
}

// NewMetrics creates the check metrics and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		checksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "checks_total",
				Help:      "Total number of readiness checks performed",
			},
			[]string{"check", "status"},
		),
		checkStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_status",
				Help:      "Current check status (1=healthy, 0=unhealthy)",
			},
			[]string{"check"},
		),
	}
}

func (m *Metrics) record(check string, healthy bool) {
	if m == nil {
		return
	}
	status, value := StatusHealthy, 1.0
	if !healthy {
		status, value = StatusUnhealthy, 0
	}
	m.checksTotal.WithLabelValues(check, string(status)).Inc()
	m.checkStatus.WithLabelValues(check).Set(value)
}
