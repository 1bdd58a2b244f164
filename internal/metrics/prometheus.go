package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerdictsTotal counts judged submissions by language and verdict.
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_judge_verdicts_total",
			Help: "Total number of judged submissions",
		},
		[]string{"language", "status"},
	)

	// JudgeDuration tracks wall time to judge one submission in seconds.
	JudgeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibe_judge_duration_seconds",
			Help:    "Duration of judging a submission in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"language"},
	)

	// RunDuration tracks a single isolated run (create, compile, run, destroy).
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibe_judge_run_duration_seconds",
			Help:    "Duration of one isolated run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"language"},
	)

	// JobsTotal counts queued submissions handled by the worker pool by outcome.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_judge_jobs_total",
			Help: "Total number of queued submissions processed by outcome",
		},
		[]string{"outcome"},
	)

	// WorkersActive tracks the number of currently active workers.
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vibe_judge_workers_active",
			Help: "Number of currently active worker goroutines",
		},
	)

	// EnvironmentsActive tracks live isolated environments owned by this process.
	EnvironmentsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vibe_judge_environments_active",
			Help: "Number of live isolated environments",
		},
		[]string{"owner"},
	)

	// SandboxFailures counts isolation infrastructure failures (not user code errors).
	SandboxFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_judge_sandbox_failures_total",
			Help: "Total number of sandbox infrastructure failures",
		},
		[]string{"stage"},
	)

	// SessionsActive tracks open terminal sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vibe_judge_terminal_sessions_active",
			Help: "Number of open terminal sessions",
		},
	)

	// SessionsReaped counts sessions destroyed for inactivity.
	SessionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vibe_judge_terminal_sessions_reaped_total",
			Help: "Total number of idle terminal sessions reaped",
		},
	)

	// CommandsTotal counts terminal commands by outcome.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibe_judge_terminal_commands_total",
			Help: "Total number of terminal commands executed",
		},
		[]string{"outcome"},
	)
)
