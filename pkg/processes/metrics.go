package processes

import (
	"time"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "portal_processes"

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	stepsExecuted   *prometheus.CounterVec
	leaseConflicts  *prometheus.CounterVec
	pollErrors      prometheus.Counter
	handlerDuration *prometheus.HistogramVec
	openSteps       *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "steps_executed_total",
				Help:      "Number of process steps finished by the dispatcher, by step type and stored status",
			},
			[]string{"step_type", "status"},
		),
		leaseConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "lease_conflicts_total",
				Help:      "Number of lease acquisitions or step writes lost to another worker",
			},
			[]string{"process_type"},
		),
		pollErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "poll_errors_total",
				Help:      "Number of dispatch cycles that failed on the repository",
			},
		),
		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "handler_duration_seconds",
				Help:      "Duration of step handler invocations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step_type"},
		),
		openSteps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "open_steps",
				Help:      "Number of open process steps, by status",
			},
			[]string{"status"},
		),
	}

	registerer.MustRegister(m.stepsExecuted, m.leaseConflicts, m.pollErrors, m.handlerDuration, m.openSteps)

	return m
}

func (m *Metrics) stepExecuted(stepType models.ProcessStepType, status models.ProcessStepStatus) {
	m.stepsExecuted.WithLabelValues(string(stepType), string(status)).Inc()
}

func (m *Metrics) leaseConflict(processType models.ProcessType) {
	m.leaseConflicts.WithLabelValues(string(processType)).Inc()
}

func (m *Metrics) pollError() {
	m.pollErrors.Inc()
}

func (m *Metrics) observeHandler(stepType models.ProcessStepType, elapsed time.Duration) {
	m.handlerDuration.WithLabelValues(string(stepType)).Observe(elapsed.Seconds())
}

func (m *Metrics) setOpenSteps(counts map[models.ProcessStepStatus]int64) {
	for status, count := range counts {
		m.openSteps.WithLabelValues(string(status)).Set(float64(count))
	}
}
