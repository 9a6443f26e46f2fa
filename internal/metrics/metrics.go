// Package metrics defines the Prometheus series this server exposes,
// grounded in RohanRaikwar-algo-sys-v1's internal/metrics/metrics.go: one
// struct of pre-constructed collectors, built and registered together in a
// constructor, instead of scattering prometheus.NewCounter calls at each
// call site.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every series this server publishes to /metrics.
type Metrics struct {
	TradesTotal            *prometheus.CounterVec
	TradesRejectedTotal     *prometheus.CounterVec
	TicksTotal              prometheus.Counter
	TickFaultsTotal         prometheus.Counter
	MatchesFinishedTotal    *prometheus.CounterVec
	MatchesAbandonedTotal   prometheus.Counter
	LeaseTransfersTotal     prometheus.Counter
	LeaseRenewFailuresTotal prometheus.Counter
	BroadcastDropsTotal     prometheus.Counter
	BroadcastCircuitState   prometheus.Gauge
	MatchmakingPairsTotal   prometheus.Counter
	MatchmakingQueueDepth   prometheus.Gauge
	ActiveMatches           prometheus.Gauge
	TradeExecuteDuration    prometheus.Histogram
	TickDuration            prometheus.Histogram
}

// New builds and registers every series against reg. Pass
// prometheus.NewRegistry() in tests to avoid the duplicate-registration
// panic that a shared global registry would hit across parallel tests; pass
// prometheus.DefaultRegisterer in main so promhttp.Handler() can see them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleduel_trades_total",
			Help: "Executed trades, by side.",
		}, []string{"side"}),
		TradesRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleduel_trades_rejected_total",
			Help: "Rejected trade submissions, by reason code.",
		}, []string{"reason"}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleduel_ticks_total",
			Help: "Candle ticks advanced across all matches.",
		}),
		TickFaultsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleduel_tick_faults_total",
			Help: "Scheduler ticks that faulted and were retried on the next period.",
		}),
		MatchesFinishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "candleduel_matches_finished_total",
			Help: "Matches that reached FINISHED, by whether a winner was declared.",
		}, []string{"outcome"}),
		MatchesAbandonedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleduel_matches_abandoned_total",
			Help: "Matches that ended ABANDONED, either a pre-start creator leave or a disconnect grace expiry.",
		}),
		LeaseTransfersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleduel_lease_transfers_total",
			Help: "Times scheduler ownership of a match moved to a different instance.",
		}),
		LeaseRenewFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleduel_lease_renew_failures_total",
			Help: "Failed attempts to renew a scheduler ownership lease.",
		}),
		BroadcastDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleduel_broadcast_drops_total",
			Help: "Cross-instance broadcast publishes dropped while the relay circuit was open.",
		}),
		BroadcastCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candleduel_broadcast_circuit_state",
			Help: "Broadcast relay circuit breaker state (0=closed, 1=open, 2=half-open).",
		}),
		MatchmakingPairsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candleduel_matchmaking_pairs_total",
			Help: "Tickets paired into a match by the matchmaker.",
		}),
		MatchmakingQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candleduel_matchmaking_queue_depth",
			Help: "Tickets currently waiting in the ranked queue.",
		}),
		ActiveMatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "candleduel_active_matches",
			Help: "Matches currently in the ACTIVE state.",
		}),
		TradeExecuteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleduel_trade_execute_duration_seconds",
			Help:    "Latency of validating and applying a single trade.",
			Buckets: prometheus.DefBuckets,
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "candleduel_tick_duration_seconds",
			Help:    "Latency of advancing one match by one candle, including persistence and broadcast.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.TradesTotal,
		m.TradesRejectedTotal,
		m.TicksTotal,
		m.TickFaultsTotal,
		m.MatchesFinishedTotal,
		m.MatchesAbandonedTotal,
		m.LeaseTransfersTotal,
		m.LeaseRenewFailuresTotal,
		m.BroadcastDropsTotal,
		m.BroadcastCircuitState,
		m.MatchmakingPairsTotal,
		m.MatchmakingQueueDepth,
		m.ActiveMatches,
		m.TradeExecuteDuration,
		m.TickDuration,
	)

	return m
}
