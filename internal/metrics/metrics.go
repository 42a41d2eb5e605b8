package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Vote Processing Metrics
var (
	// VotesTotal tracks votes processed by result
	VotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votes_total",
			Help: "Total votes processed by result (cast/removed/duplicate/rejected/error)",
		},
		[]string{"result"},
	)

	// VoteProcessingDuration tracks vote processing latency
	VoteProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vote_processing_duration_seconds",
			Help:    "Vote processing duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
	)

	// VotingRoundsTotal tracks round lifecycle events
	VotingRoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voting_rounds_total",
			Help: "Total voting round events by type (started/ended/auto_ended)",
		},
		[]string{"event"},
	)
)

// Session Lifecycle Metrics
var (
	// StageTransitionsTotal tracks stage transitions by target status and result
	StageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_transitions_total",
			Help: "Total session stage transitions by target status and result (ok/conflict/error)",
		},
		[]string{"status", "result"},
	)

	// SessionsLive tracks the number of currently live sessions
	SessionsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_live",
			Help: "Number of currently live sessions",
		},
	)
)

// Reputation Metrics
var (
	// ReputationTransactionsTotal tracks ledger entries by transaction type
	ReputationTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reputation_transactions_total",
			Help: "Total reputation ledger entries by transaction type",
		},
		[]string{"type"},
	)

	// ReputationDecaySweepDuration tracks decay sweep duration
	ReputationDecaySweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reputation_decay_sweep_duration_seconds",
			Help:    "Reputation decay sweep duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		},
	)
)

// Hype Metrics
var (
	// HypeTicksTotal tracks hype recomputations by outcome
	HypeTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hype_ticks_total",
			Help: "Total hype recomputations by outcome (updated/suppressed/error)",
		},
		[]string{"outcome"},
	)

	// HypeMilestonesTotal tracks milestone crossings by threshold
	HypeMilestonesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hype_milestones_total",
			Help: "Total hype milestone crossings by threshold",
		},
		[]string{"threshold"},
	)

	// HypeLoopsActive tracks the number of running hype loops
	HypeLoopsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hype_loops_active",
			Help: "Number of running per-session hype loops",
		},
	)

	// ReactionBurstsTotal tracks detected reaction bursts
	ReactionBurstsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reaction_bursts_total",
			Help: "Total detected reaction bursts",
		},
	)
)

// Rate Limiting Metrics
var (
	// RateLimitChecksTotal tracks rate limit checks by action and outcome
	RateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_checks_total",
			Help: "Total rate limit checks by action and outcome (admitted/limited)",
		},
		[]string{"action", "outcome"},
	)
)

// Redis Operations Metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// WebSocket Metrics
var (
	// WebSocketConnectionsCurrent tracks current active WebSocket connections
	WebSocketConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_current",
			Help: "Current number of active WebSocket connections",
		},
	)

	// WebSocketConnectionsTotal tracks total WebSocket connection attempts by result
	WebSocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Total WebSocket connection attempts by result (success/rejected/error)",
		},
		[]string{"result"},
	)

	// WebSocketSlowClientsEvicted tracks slow clients evicted due to full buffers
	WebSocketSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_slow_clients_evicted_total",
			Help: "Total slow WebSocket clients evicted due to buffer full",
		},
	)

	// WebSocketSessionsActive tracks sessions with at least one connected client
	WebSocketSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_sessions_active",
			Help: "Number of sessions with at least one connected WebSocket client",
		},
	)
)

// Database Metrics
var (
	// DBQueryDuration tracks database query duration by query name
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	// DBErrorsTotal tracks database errors by query name
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Total database errors by query",
		},
		[]string{"query"},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "go_version"},
	)
)
