// Package metrics holds the Prometheus collectors exported by the job system.
// Collectors are created per instance so that several systems (for example
// in tests) can coexist without clashing on a global registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors updated by the scheduler and its workers.
type Metrics struct {
	Submitted *prometheus.CounterVec
	Claimed   *prometheus.CounterVec
	Completed *prometheus.CounterVec
	Retired   *prometheus.CounterVec
	Rejected  *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	Jobs      *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg
// yields unregistered collectors, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "jobsys_jobs_submitted_total", Help: "Jobs accepted into the queued set"},
			[]string{"type"},
		),
		Claimed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "jobsys_jobs_claimed_total", Help: "Jobs claimed by a worker"},
			[]string{"type", "worker"},
		),
		Completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "jobsys_jobs_completed_total", Help: "Jobs reported complete"},
			[]string{"type"},
		),
		Retired: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "jobsys_jobs_retired_total", Help: "Jobs retired and dropped"},
			[]string{"type"},
		),
		Rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "jobsys_submissions_rejected_total", Help: "Submissions refused by the scheduler"},
			[]string{"reason"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobsys_job_execute_seconds",
				Help:    "Wall time spent inside Job.Execute",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"type"},
		),
		Jobs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "jobsys_jobs", Help: "Jobs currently held per status"},
			[]string{"status"},
		),
	}
	if reg != nil {
		for _, c := range m.Collectors() {
			reg.MustRegister(c)
		}
	}
	return m
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Submitted, m.Claimed, m.Completed, m.Retired, m.Rejected, m.Duration, m.Jobs,
	}
}
