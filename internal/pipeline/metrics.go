package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: полная длительность evaluateAction (включая запись аудита)
	EvaluationDuration *prometheus.HistogramVec

	// Traffic: общее число оценок по исходу
	EvaluationsTotal *prometheus.CounterVec

	// Safety-события по компонентам
	CBFViolations    *prometheus.CounterVec
	VetoEvents       *prometheus.CounterVec
	RecoveryEvents   *prometheus.CounterVec
	GovernorLimited  prometheus.Counter

	// Errors: невозможность записать решение — всегда отдельный счетчик
	AuditAppendFailures prometheus.Counter

	// Saturation
	PendingEscalations prometheus.Gauge
	EntropyQueueFill   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		EvaluationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cato_evaluation_duration_seconds",
			Help:    "Histogram of safety pipeline evaluation latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"tenant_id", "outcome"}),

		EvaluationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cato_evaluations_total",
			Help: "Total number of evaluated actions.",
		}, []string{"tenant_id", "outcome"}), // outcome: allowed, blocked, system_error

		CBFViolations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cato_cbf_violations_total",
			Help: "Total number of barrier violations by type.",
		}, []string{"barrier_type", "critical"}),

		VetoEvents: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cato_veto_events_total",
			Help: "Total number of veto enforcements by severity.",
		}, []string{"severity"}),

		RecoveryEvents: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cato_recovery_events_total",
			Help: "Total number of recovery activations by strategy.",
		}, []string{"strategy"}),

		GovernorLimited: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cato_governor_limited_total",
			Help: "Total number of actions with gamma reduced by the governor.",
		}),

		AuditAppendFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "cato_audit_append_failures_total",
			Help: "Total number of failed audit chain appends.",
		}),

		PendingEscalations: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cato_escalations_pending",
			Help: "Current number of escalations awaiting human review.",
		}),

		EntropyQueueFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "cato_entropy_queue_utilization",
			Help: "Current number of jobs in the async entropy queue.",
		}),
	}
}
