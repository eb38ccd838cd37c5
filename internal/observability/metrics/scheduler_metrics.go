package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SchedulerMetrics captures sweep and expiry job health signals.
type SchedulerMetrics struct {
	jobRuns      *prometheus.CounterVec
	jobErrors    *prometheus.CounterVec
	jobTimeouts  *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	candidates   *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	gatewayCalls *prometheus.CounterVec
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics()
	})
	return schedulerMetrics
}

func newSchedulerMetrics() *SchedulerMetrics {
	return &SchedulerMetrics{
		jobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dukapos_scheduler_job_runs_total",
			Help: "Scheduler job executions by job name.",
		}, []string{"job"}),
		jobErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dukapos_scheduler_job_errors_total",
			Help: "Scheduler job failures by job name.",
		}, []string{"job"}),
		jobTimeouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dukapos_scheduler_job_timeouts_total",
			Help: "Scheduler jobs ended by their soft deadline.",
		}, []string{"job"}),
		jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dukapos_scheduler_job_duration_seconds",
			Help:    "Scheduler job wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		candidates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dukapos_scheduler_candidates_total",
			Help: "Rows considered per job, by disposition.",
		}, []string{"job", "disposition"}),
		transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dukapos_subscription_transitions_total",
			Help: "Subscription status transitions performed by background jobs.",
		}, []string{"from", "to"}),
		gatewayCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dukapos_gateway_status_queries_total",
			Help: "Out-of-band gateway status queries by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncCandidate(job, disposition string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(job, disposition).Inc()
}

func (m *SchedulerMetrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *SchedulerMetrics) IncGatewayQuery(outcome string) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(outcome).Inc()
}
