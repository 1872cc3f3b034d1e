// Package metrics exposes the scheduler's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the orchestration layer records into.
// A nil *Metrics is valid and records nothing, so tests and one-shot
// commands can skip registration.
type Metrics struct {
	TasksCreated     prometheus.Counter
	TasksDispatched  prometheus.Counter
	TasksRequeued    prometheus.Counter
	TasksCompleted   *prometheus.CounterVec
	LeasesAcquired   prometheus.Counter
	LeaseConflicts   prometheus.Counter
	LeasesExpired    prometheus.Counter
	LeasesExtended   prometheus.Counter
	SweepPasses      *prometheus.CounterVec
	RunsFailed       *prometheus.CounterVec
	ActiveLeases     prometheus.Gauge
	QueueDepth       prometheus.Gauge
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opentiger", Name: "tasks_created_total",
			Help: "Tasks accepted from the planner.",
		}),
		TasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opentiger", Name: "tasks_dispatched_total",
			Help: "Tasks bound to an agent and moved to running.",
		}),
		TasksRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opentiger", Name: "tasks_requeued_total",
			Help: "Tasks returned to the queue by retry or recovery.",
		}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opentiger", Name: "tasks_completed_total",
			Help: "Tasks reaching a terminal status.",
		}, []string{"status"}),
		LeasesAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opentiger", Name: "leases_acquired_total",
			Help: "Successful lease acquisitions.",
		}),
		LeaseConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opentiger", Name: "lease_conflicts_total",
			Help: "Lease acquisitions lost to a concurrent claimer.",
		}),
		LeasesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opentiger", Name: "leases_expired_total",
			Help: "Leases reclaimed by sweeper pass A.",
		}),
		LeasesExtended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opentiger", Name: "leases_extended_total",
			Help: "Lease extensions granted.",
		}),
		SweepPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opentiger", Name: "sweep_repairs_total",
			Help: "Rows repaired per sweeper pass.",
		}, []string{"pass"}),
		RunsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opentiger", Name: "runs_failed_total",
			Help: "Failed runs by failure category.",
		}, []string{"category"}),
		ActiveLeases: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opentiger", Name: "active_leases",
			Help: "Unexpired leases at last observation.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opentiger", Name: "queue_depth",
			Help: "Queued tasks at last observation.",
		}),
	}

	reg.MustRegister(
		m.TasksCreated, m.TasksDispatched, m.TasksRequeued, m.TasksCompleted,
		m.LeasesAcquired, m.LeaseConflicts, m.LeasesExpired, m.LeasesExtended,
		m.SweepPasses, m.RunsFailed, m.ActiveLeases, m.QueueDepth,
	)
	return m
}

// --- nil-safe recording helpers ---

func (m *Metrics) IncTasksCreated() {
	if m != nil {
		m.TasksCreated.Inc()
	}
}

func (m *Metrics) IncTasksDispatched() {
	if m != nil {
		m.TasksDispatched.Inc()
	}
}

func (m *Metrics) IncTasksRequeued() {
	if m != nil {
		m.TasksRequeued.Inc()
	}
}

func (m *Metrics) IncTasksCompleted(status string) {
	if m != nil {
		m.TasksCompleted.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncLeasesAcquired() {
	if m != nil {
		m.LeasesAcquired.Inc()
	}
}

func (m *Metrics) IncLeaseConflicts() {
	if m != nil {
		m.LeaseConflicts.Inc()
	}
}

func (m *Metrics) AddLeasesExpired(n int) {
	if m != nil {
		m.LeasesExpired.Add(float64(n))
	}
}

func (m *Metrics) IncLeasesExtended() {
	if m != nil {
		m.LeasesExtended.Inc()
	}
}

func (m *Metrics) AddSweepRepairs(pass string, n int) {
	if m != nil && n > 0 {
		m.SweepPasses.WithLabelValues(pass).Add(float64(n))
	}
}

func (m *Metrics) IncRunsFailed(category string) {
	if m != nil {
		m.RunsFailed.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) SetActiveLeases(n int) {
	if m != nil {
		m.ActiveLeases.Set(float64(n))
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}
