package gate

import "github.com/prometheus/client_golang/prometheus"

// Metric names as constants for consistency.
const (
	MetricGateChecks        = "gate_checks_total"
	MetricGateDenied        = "gate_denied_total"
	MetricGateBackendErrors = "gate_backend_errors_total"
)

// Metrics contains Prometheus metrics for gate operations.
type Metrics struct {
	checks        *prometheus.CounterVec
	denied        *prometheus.CounterVec
	backendErrors prometheus.Counter
}

// NewMetrics creates the gate metric collectors. They are not registered;
// call Register to attach them to a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricGateChecks,
				Help: "Total number of gate checks by kind (rate, dedupe)",
			},
			[]string{"kind"},
		),
		denied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricGateDenied,
				Help: "Total number of denied gate checks by kind (rate, dedupe)",
			},
			[]string{"kind"},
		),
		backendErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricGateBackendErrors,
				Help: "Total number of gate backend errors (fail-closed events)",
			},
		),
	}
}

// Register registers all gate metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.checks, m.denied, m.backendErrors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) incChecks(kind string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(kind).Inc()
}

func (m *Metrics) incLimited(kind string) {
	if m == nil {
		return
	}
	m.denied.WithLabelValues(kind).Inc()
}

func (m *Metrics) incBackendErrors() {
	if m == nil {
		return
	}
	m.backendErrors.Inc()
}
