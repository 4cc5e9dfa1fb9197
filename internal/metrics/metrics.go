package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IntentsAdmitted counts intents accepted into the pending book
	IntentsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solver_intents_admitted_total",
		Help: "Total number of intents admitted",
	})

	// IntentsRejected counts rejected submissions by reason code
	IntentsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_intents_rejected_total",
		Help: "Total number of rejected intent submissions",
	}, []string{"reason"})

	// PendingIntents tracks the current size of the pending book
	PendingIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solver_pending_intents",
		Help: "Current number of pending intents",
	})

	// MatchesCreated counts matched pairs produced by the matching engine
	MatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solver_matches_created_total",
		Help: "Total number of matched pairs",
	})

	// MatchingPassDuration observes matching pass wall time
	MatchingPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "solver_matching_pass_duration_seconds",
		Help:    "Duration of matching engine passes",
		Buckets: prometheus.DefBuckets,
	})

	// SettlementAttempts counts settlement submissions by result
	SettlementAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_settlement_attempts_total",
		Help: "Total settlement submission attempts by result",
	}, []string{"result"})

	// NonceResyncs counts account nonce re-fetches after a mismatch
	NonceResyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solver_nonce_resyncs_total",
		Help: "Total account nonce resynchronizations",
	})

	// VerifierUnavailable counts admissions that proceeded without a
	// proof preflight because the verifier was unreachable
	VerifierUnavailable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solver_verifier_unavailable_total",
		Help: "Total admissions degraded by verifier unavailability",
	})

	// IntentsExpired counts intents expired by the sweeper
	IntentsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solver_intents_expired_total",
		Help: "Total intents expired by the sweeper",
	})

	// MatchesRolledBack counts matches unwound after settlement was abandoned
	MatchesRolledBack = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solver_matches_rolled_back_total",
		Help: "Total matches rolled back after abandoned settlement",
	})
)
