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
	// Ingestion metrics
	TradesIngested     *prometheus.CounterVec
	TradesRejected     *prometheus.CounterVec
	TradesDuplicate    *prometheus.CounterVec
	TradesSignificant  prometheus.Counter
	TradesUndecoded    prometheus.Counter
	IngestLatency      *prometheus.HistogramVec
	LastTradeTimestamp prometheus.Gauge

	// Aggregation metrics
	BucketUpserts      prometheus.Counter
	BucketUpsertErrors prometheus.Counter
	BucketsSkipped     *prometheus.CounterVec
	BucketsSwept       prometheus.Counter

	// Backfill metrics
	BackfillRunsTotal      *prometheus.CounterVec
	BackfillDuration       prometheus.Histogram
	BackfillPages          prometheus.Counter
	BackfillTickerFailures *prometheus.CounterVec

	// Provider metrics
	ProviderRequestLatency *prometheus.HistogramVec
	ProviderRequestErrors  *prometheus.CounterVec
	WSMessages             *prometheus.CounterVec
	WSReconnects           prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "options_flow"
	}

	return &Metrics{
		// Ingestion metrics
		TradesIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trades_ingested_total",
			Help:      "Total number of trades stored by source",
		}, []string{"source"}),
		TradesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trades_rejected_total",
			Help:      "Total number of rejected payloads by source and reason",
		}, []string{"source", "reason"}),
		TradesDuplicate: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trades_duplicate_total",
			Help:      "Total number of duplicate trade observations skipped by source",
		}, []string{"source"}),
		TradesSignificant: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trades_significant_total",
			Help:      "Total number of trades classified as significant",
		}),
		TradesUndecoded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trades_undecoded_total",
			Help:      "Total number of trades stored without a decoded contract",
		}),
		IngestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ingest_latency_seconds",
			Help:      "Per-event ingestion latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		LastTradeTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "last_trade_timestamp",
			Help:      "Unix timestamp of the most recently stored trade",
		}),

		// Aggregation metrics
		BucketUpserts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "bucket_upserts_total",
			Help:      "Total number of bucket increments applied",
		}),
		BucketUpsertErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "bucket_upsert_errors_total",
			Help:      "Total number of failed bucket increments",
		}),
		BucketsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "trades_skipped_total",
			Help:      "Total number of trades not aggregated by reason",
		}, []string{"reason"}),
		BucketsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "buckets_swept_total",
			Help:      "Total number of buckets removed by retention sweeps",
		}),

		// Backfill metrics
		BackfillRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "runs_total",
			Help:      "Total number of backfill runs by status",
		}, []string{"status"}),
		BackfillDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "duration_seconds",
			Help:      "Backfill run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		BackfillPages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "pages_total",
			Help:      "Total number of pages fetched from the pull feed",
		}),
		BackfillTickerFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "ticker_failures_total",
			Help:      "Total number of tickers whose pagination stopped on an error",
		}, []string{"reason"}),

		// Provider metrics
		ProviderRequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_latency_seconds",
			Help:      "Provider REST request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		ProviderRequestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_errors_total",
			Help:      "Total number of failed provider requests",
		}, []string{"endpoint", "kind"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "ws_messages_total",
			Help:      "Total number of push feed events by type",
		}, []string{"event"}),
		WSReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "ws_reconnects_total",
			Help:      "Total number of push feed reconnects",
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
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTradeIngested records a stored trade.
func RecordTradeIngested(source string, significant, decoded bool, timestampMs int64) {
	DefaultMetrics.TradesIngested.WithLabelValues(source).Inc()
	if significant {
		DefaultMetrics.TradesSignificant.Inc()
	}
	if !decoded {
		DefaultMetrics.TradesUndecoded.Inc()
	}
	DefaultMetrics.LastTradeTimestamp.Set(float64(timestampMs) / 1000)
}

// RecordTradeRejected records a rejected payload.
func RecordTradeRejected(source, reason string) {
	DefaultMetrics.TradesRejected.WithLabelValues(source, reason).Inc()
}

// RecordTradeDuplicate records a skipped duplicate observation.
func RecordTradeDuplicate(source string) {
	DefaultMetrics.TradesDuplicate.WithLabelValues(source).Inc()
}

// RecordIngestLatency records per-event ingestion latency.
func RecordIngestLatency(source string, seconds float64) {
	DefaultMetrics.IngestLatency.WithLabelValues(source).Observe(seconds)
}

// RecordBucketUpsert records a bucket increment attempt.
func RecordBucketUpsert(err error) {
	if err != nil {
		DefaultMetrics.BucketUpsertErrors.Inc()
		return
	}
	DefaultMetrics.BucketUpserts.Inc()
}

// RecordTradeNotAggregated records a trade the aggregator skipped.
func RecordTradeNotAggregated(reason string) {
	DefaultMetrics.BucketsSkipped.WithLabelValues(reason).Inc()
}

// RecordBucketsSwept records buckets removed by a sweep.
func RecordBucketsSwept(n int) {
	DefaultMetrics.BucketsSwept.Add(float64(n))
}

// RecordBackfillRun records a finished backfill run.
func RecordBackfillRun(status string, durationSeconds float64) {
	DefaultMetrics.BackfillRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.BackfillDuration.Observe(durationSeconds)
}

// RecordBackfillPage records a fetched pull-feed page.
func RecordBackfillPage() {
	DefaultMetrics.BackfillPages.Inc()
}

// RecordBackfillTickerFailure records a ticker whose pagination stopped early.
func RecordBackfillTickerFailure(reason string) {
	DefaultMetrics.BackfillTickerFailures.WithLabelValues(reason).Inc()
}

// RecordProviderRequest records provider request metrics.
func RecordProviderRequest(endpoint string, seconds float64, errKind string) {
	DefaultMetrics.ProviderRequestLatency.WithLabelValues(endpoint).Observe(seconds)
	if errKind != "" {
		DefaultMetrics.ProviderRequestErrors.WithLabelValues(endpoint, errKind).Inc()
	}
}

// RecordWSMessage records a push feed event by type.
func RecordWSMessage(event string) {
	DefaultMetrics.WSMessages.WithLabelValues(event).Inc()
}

// RecordWSReconnect records a push feed reconnect.
func RecordWSReconnect() {
	DefaultMetrics.WSReconnects.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
