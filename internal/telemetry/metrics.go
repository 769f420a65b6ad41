package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Domain metrics, exported on /metrics next to the default collectors.
var (
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_queue_depth",
		Help: "Number of players currently waiting in the matchmaking queue.",
	})

	PlayersPaired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_players_paired_total",
		Help: "Number of pairs formed by the matchmaking queue.",
	})

	QueueTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_queue_timeouts_total",
		Help: "Number of queue entries dropped after exhausting their attempt budget.",
	})

	MatchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_matches_started_total",
		Help: "Number of match sessions created.",
	})

	MatchesFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_matches_finalized_total",
		Help: "Number of match sessions finalized, by result.",
	}, []string{"result"})

	FinalizeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_finalize_failures_total",
		Help: "Number of best-effort rating/skill/persistence failures during finalization.",
	})
)
