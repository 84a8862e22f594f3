// Package telemetry exposes the engine's Prometheus collectors.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the engine touches. Constructed once and
// passed in; no package-level registry state.
type Metrics struct {
	Registry *prometheus.Registry

	TradesTotal      *prometheus.CounterVec
	DecisionsTotal   *prometheus.CounterVec
	OrdersFailed     prometheus.Counter
	RateLimitWaits   prometheus.Counter
	BreakerState     prometheus.Gauge
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	SnapshotPersists prometheus.Counter
	LoopDuration     prometheus.Histogram
	PortfolioEquity  prometheus.Gauge
	PortfolioCash    prometheus.Gauge
	OpenPositions    prometheus.Gauge
}

// New builds a fresh registry with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		TradesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stratrun_trades_total",
			Help: "Trade executions by result (executed, declined, failed).",
		}, []string{"result"}),
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stratrun_decisions_total",
			Help: "Aggregated decisions by action.",
		}, []string{"action"}),
		OrdersFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "stratrun_orders_failed_total",
			Help: "Orders marked FAILED after exhausting retries.",
		}),
		RateLimitWaits: factory.NewCounter(prometheus.CounterOpts{
			Name: "stratrun_rate_limit_rejections_total",
			Help: "Broker calls rejected by the rate limiter.",
		}),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stratrun_breaker_state",
			Help: "Broker circuit state: 0 closed, 1 half-open, 2 open.",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "stratrun_cache_hits_total",
			Help: "Market cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "stratrun_cache_misses_total",
			Help: "Market cache misses.",
		}),
		SnapshotPersists: factory.NewCounter(prometheus.CounterOpts{
			Name: "stratrun_snapshot_persists_total",
			Help: "Snapshots written to the tier chain.",
		}),
		LoopDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stratrun_loop_duration_seconds",
			Help:    "Evaluation loop cycle duration.",
			Buckets: prometheus.DefBuckets,
		}),
		PortfolioEquity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stratrun_portfolio_equity",
			Help: "Cash plus marked-to-market position value.",
		}),
		PortfolioCash: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stratrun_portfolio_cash",
			Help: "Current cash balance.",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stratrun_open_positions",
			Help: "Count of open positions.",
		}),
	}
}
