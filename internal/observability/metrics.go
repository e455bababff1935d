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
	// Market data metrics
	BarsFetched      prometheus.Counter
	BarsStored       prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	FetchErrors      *prometheus.CounterVec
	FetchLatency     prometheus.Histogram
	StreamReconnects prometheus.Counter
	StreamBarsTotal  prometheus.Counter

	// Backtest metrics
	BacktestRunsTotal  *prometheus.CounterVec
	BacktestDuration   prometheus.Histogram
	BarsProcessed      prometheus.Counter
	TradesSimulated    prometheus.Counter
	AggregatesComputed prometheus.Counter
	ReportsGenerated   prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulFetch prometheus.Gauge
	LastSuccessfulRun   prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "crypto_backtest_lab"
	}

	return &Metrics{
		// Market data metrics
		BarsFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "bars_fetched_total",
			Help:      "Total number of bars fetched from the exchange API",
		}),
		BarsStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "bars_stored_total",
			Help:      "Total number of bars stored to the bar store",
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "cache_hits_total",
			Help:      "Total number of bar cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "cache_misses_total",
			Help:      "Total number of bar cache misses",
		}),
		FetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "fetch_errors_total",
			Help:      "Total number of fetch errors by stage",
		}, []string{"stage"}),
		FetchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "fetch_latency_seconds",
			Help:      "Exchange API fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		StreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "stream_reconnects_total",
			Help:      "Total number of kline stream reconnects",
		}),
		StreamBarsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "stream_bars_total",
			Help:      "Total number of closed bars received from the stream",
		}),

		// Backtest metrics
		BacktestRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Total number of backtest runs by status",
		}, []string{"status"}),
		BacktestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "duration_seconds",
			Help:      "Backtest run duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		BarsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "bars_processed_total",
			Help:      "Total number of bars processed by the engine",
		}),
		TradesSimulated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "trades_simulated_total",
			Help:      "Total number of trades simulated",
		}),
		AggregatesComputed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "aggregates_computed_total",
			Help:      "Total number of strategy aggregates computed",
		}),
		ReportsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "reports_generated_total",
			Help:      "Total number of reports generated",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulFetch: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_fetch_timestamp",
			Help:      "Unix timestamp of last successful market data fetch",
		}),
		LastSuccessfulRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful backtest run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() {
	DefaultMetrics.CacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() {
	DefaultMetrics.CacheMisses.Inc()
}

// RecordBarsFetched adds to the fetched bar counter.
func RecordBarsFetched(n int) {
	DefaultMetrics.BarsFetched.Add(float64(n))
}

// RecordFetchError records a fetch error for a pipeline stage.
func RecordFetchError(stage string) {
	DefaultMetrics.FetchErrors.WithLabelValues(stage).Inc()
}

// RecordFetchLatency records one exchange fetch duration.
func RecordFetchLatency(seconds float64) {
	DefaultMetrics.FetchLatency.Observe(seconds)
}

// RecordStreamReconnect increments the stream reconnect counter.
func RecordStreamReconnect() {
	DefaultMetrics.StreamReconnects.Inc()
}

// RecordBacktestRun records a completed backtest run.
func RecordBacktestRun(status string, durationSeconds float64) {
	DefaultMetrics.BacktestRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.BacktestDuration.Observe(durationSeconds)
}

// RecordTradesSimulated adds to the simulated trade counter.
func RecordTradesSimulated(n int) {
	DefaultMetrics.TradesSimulated.Add(float64(n))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
