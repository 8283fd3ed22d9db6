// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ContractsDeployed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contracts_deployed_total",
			Help: "Total number of contracts deployed per template name",
		},
		[]string{"template"},
	)

	ContractTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contract_transitions_total",
			Help: "Contract state machine transitions",
		},
		[]string{"from", "to"},
	)

	LedgerTransfers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transfers_total",
			Help: "Settlement attempts by transaction type and final status",
		},
		[]string{"type", "status"},
	)

	RiskScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "risk_score",
			Help:    "Distribution of computed risk scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"recommendation"},
	)

	SchedulerJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_jobs_total",
			Help: "Scheduler jobs processed by task type and outcome",
		},
		[]string{"task_type", "outcome"},
	)

	SchedulerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "scheduler_job_duration_seconds",
			Help: "Duration of scheduler job processing in seconds",
		},
		[]string{"task_type"},
	)

	SchedulerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_jobs_active",
			Help: "Number of jobs currently held by workers",
		},
		[]string{"task_type"},
	)

	SchedulerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_queue_depth",
			Help: "Entries waiting in the scheduler queue",
		},
	)

	SinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_failures_total",
			Help: "Failed deliveries to event and audit sinks",
		},
		[]string{"sink"},
	)
)
