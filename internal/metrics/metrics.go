package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Job queue metrics
	// ============================================
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aa_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"queue", "job_type"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aa_jobs_completed_total",
			Help: "Total number of jobs completed successfully",
		},
		[]string{"queue", "job_type"},
	)

	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aa_jobs_failed_total",
			Help: "Total number of jobs that exhausted their attempts",
		},
		[]string{"queue", "job_type"},
	)

	JobsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aa_jobs_retried_total",
			Help: "Total number of job retry attempts scheduled",
		},
		[]string{"queue", "job_type"},
	)

	JobQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aa_job_queue_depth",
			Help: "Number of pending jobs per queue",
		},
		[]string{"queue"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aa_job_duration_seconds",
			Help:    "Job handler execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue", "job_type"},
	)

	// ============================================
	// Transaction pipeline metrics
	// ============================================
	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aa_pipeline_stage_duration_seconds",
			Help:    "Transaction pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"chain", "stage"},
	)

	PipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aa_pipeline_outcomes_total",
			Help: "Transaction pipeline terminal outcomes",
		},
		[]string{"chain", "outcome"},
	)

	// ============================================
	// Ledger RPC metrics
	// ============================================
	LedgerRPCErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aa_ledger_rpc_errors_total",
			Help: "Total number of ledger RPC errors",
		},
		[]string{"chain", "method"},
	)

	// ============================================
	// OTP metrics
	// ============================================
	OtpIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aa_otp_issued_total",
		Help: "Total number of OTPs issued",
	})

	OtpVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aa_otp_verifications_total",
			Help: "OTP verification attempts by result",
		},
		[]string{"result"},
	)

	// ============================================
	// NATS metrics
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aa_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aa_nats_events_published_total",
			Help: "Total number of lifecycle events published",
		},
		[]string{"subject"},
	)
)
