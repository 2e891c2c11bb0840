package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	pollCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_poll_cycles_total",
			Help: "Total number of completed status poll cycles.",
		},
	)

	pollCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_poll_cycle_duration_seconds",
			Help:    "Duration of one status poll cycle in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	backendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_backend_errors_total",
			Help: "Backend and storage call failures by operation.",
		},
		[]string{"operation"},
	)

	scenarioTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_scenario_transitions_total",
			Help: "Scenario status transitions by new status.",
		},
		[]string{"status"},
	)

	jobsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_jobs_submitted_total",
			Help: "Total number of backend jobs submitted.",
		},
	)

	experimentsTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_experiments_tracked",
			Help: "Number of experiments in the registry.",
		},
	)
)

func init() {
	prometheus.MustRegister(pollCyclesTotal)
	prometheus.MustRegister(pollCycleDuration)
	prometheus.MustRegister(backendErrorsTotal)
	prometheus.MustRegister(scenarioTransitionsTotal)
	prometheus.MustRegister(jobsSubmittedTotal)
	prometheus.MustRegister(experimentsTracked)
}
