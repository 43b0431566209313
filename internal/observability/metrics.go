package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntitiesProcessed tracks entities handled per phase, keyed by outcome.
	// Recorded by orchestrator.runPhase from the phase's merged BatchResult.
	EntitiesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztoq_migrate_entities_processed_total",
			Help: "Total number of entities processed by phase and outcome",
		},
		[]string{"entity_type", "phase", "outcome"},
	)

	// PhaseDuration tracks how long each workflow phase takes.
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ztoq_migrate_phase_duration_seconds",
			Help:    "Duration of extract/transform/load/validate/rollback phases",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1s to ~27 minutes
		},
		[]string{"phase", "status"},
	)

	// ActiveMigrations tracks currently running project migrations.
	ActiveMigrations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ztoq_migrate_active_migrations",
			Help: "Number of currently active project migrations",
		},
	)

	// MigrationStatus tracks phase runs by final status.
	MigrationStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztoq_migrate_migrations_total",
			Help: "Total number of phase runs by final status",
		},
		[]string{"phase", "status"},
	)

	// ValidationIssues tracks validation findings by scope and severity level.
	ValidationIssues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztoq_migrate_validation_issues_total",
			Help: "Total number of validation issues recorded, by scope and level",
		},
		[]string{"scope", "level"},
	)

	// RetryAttempts tracks retry attempts for failed API calls.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztoq_migrate_retry_attempts_total",
			Help: "Total number of retry attempts",
		},
		[]string{"operation", "outcome"},
	)
)
