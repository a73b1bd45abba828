// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// PositionStore metrics
	PositionsOpen       prometheus.Gauge
	PositionsCreated    prometheus.Counter
	PositionsClosed     *prometheus.CounterVec // by sellReason
	PositionStoreErrors prometheus.Counter

	// PriceCache metrics
	PriceCacheHits   prometheus.Counter
	PriceCacheMisses prometheus.Counter
	PriceCacheErrors prometheus.Counter

	// PriceMonitor metrics
	FastLoopResolved    prometheus.Counter
	FastLoopUnresolved  prometheus.Counter
	SlowLoopDiscoveries *prometheus.CounterVec // by outcome: success/failure
	DiscoveryLatency    prometheus.Histogram

	// AdmissionPipeline metrics
	FilterEvaluations     *prometheus.CounterVec // by outcome: pass/reject
	PredictionEvaluations *prometheus.CounterVec // by outcome: approve/reject/shortcircuit
	PredictionRetries     prometheus.Counter

	// TradeExecutor metrics
	BuyAttempts       prometheus.Counter
	BuyDuplicates     prometheus.Counter
	BuySuccesses      prometheus.Counter
	BuyFailures       prometheus.Counter
	BuyLatency        prometheus.Histogram
	PriorityFeeApplied prometheus.Gauge

	// PositionWatcher metrics
	WatcherTickDuration prometheus.Histogram
	SellAttempts        *prometheus.CounterVec // by reason
	SellLatency         prometheus.Histogram
	ForceCloses         prometheus.Counter

	// Health metrics
	LastOrchestratorTick prometheus.Gauge
	LastWatcherTick      prometheus.Gauge
	LastMonitorTick      prometheus.Gauge
	UptimeSeconds        prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mindmaptrader"
	}

	return &Metrics{
		PositionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "open",
			Help:      "Current number of open positions",
		}),
		PositionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "created_total",
			Help:      "Total number of positions opened",
		}),
		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "closed_total",
			Help:      "Total number of positions closed, by sell reason",
		}, []string{"reason"}),
		PositionStoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "store_errors_total",
			Help:      "Total number of PositionStore persist writes dropped after their retries failed",
		}),

		PriceCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricecache",
			Name:      "hits_total",
			Help:      "Total number of PriceCache.getPrice hits",
		}),
		PriceCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricecache",
			Name:      "misses_total",
			Help:      "Total number of PriceCache.getPrice misses",
		}),
		PriceCacheErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricecache",
			Name:      "errors_total",
			Help:      "Total number of negative-cache entries recorded",
		}),

		FastLoopResolved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricemonitor",
			Name:      "fast_loop_resolved_total",
			Help:      "Total number of tokens resolved by the fast loop",
		}),
		FastLoopUnresolved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricemonitor",
			Name:      "fast_loop_unresolved_total",
			Help:      "Total number of tokens falling through to the slow loop",
		}),
		SlowLoopDiscoveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricemonitor",
			Name:      "slow_loop_discoveries_total",
			Help:      "Total number of slow-loop discover() calls by outcome",
		}, []string{"outcome"}),
		DiscoveryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pricemonitor",
			Name:      "discovery_latency_seconds",
			Help:      "PriceOracle.discover latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		FilterEvaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "filter_evaluations_total",
			Help:      "Total number of FilterEngine evaluations by outcome",
		}, []string{"outcome"}),
		PredictionEvaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "prediction_evaluations_total",
			Help:      "Total number of PredictionClient evaluations by outcome",
		}, []string{"outcome"}),
		PredictionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "prediction_retries_total",
			Help:      "Total number of prediction non-approvals counted toward the retry budget",
		}),

		BuyAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "buy_attempts_total",
			Help:      "Total number of TradeExecutor.buy invocations",
		}),
		BuyDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "buy_duplicates_total",
			Help:      "Total number of buy calls rejected as duplicates (lock already held or an open position exists for the agent and token)",
		}),
		BuySuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "buy_successes_total",
			Help:      "Total number of successful buys",
		}),
		BuyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "buy_failures_total",
			Help:      "Total number of failed buys",
		}),
		BuyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "buy_latency_seconds",
			Help:      "SwapBackend.buy latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		PriorityFeeApplied: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "priority_fee_applied",
			Help:      "Most recently applied dynamic priority fee",
		}),

		WatcherTickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "tick_duration_seconds",
			Help:      "PositionWatcher tick duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SellAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "sell_attempts_total",
			Help:      "Total number of sell attempts by exit reason",
		}, []string{"reason"}),
		SellLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "sell_latency_seconds",
			Help:      "SwapBackend.sell latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ForceCloses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "force_closes_total",
			Help:      "Total number of positions force-closed on pricing error or no-balance",
		}),

		LastOrchestratorTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_orchestrator_event_timestamp",
			Help:      "Unix timestamp of the last processed inbound event",
		}),
		LastWatcherTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_watcher_tick_timestamp",
			Help:      "Unix timestamp of the last PositionWatcher tick",
		}),
		LastMonitorTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_monitor_tick_timestamp",
			Help:      "Unix timestamp of the last PriceMonitor fast-loop tick",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
