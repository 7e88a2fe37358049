package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "billing_"

	resultSuccess   = "success"
	resultError     = "error"
	resultDuplicate = "duplicate"
	resultRejected  = "rejected"
)

var (
	registerOnce sync.Once

	billGenerateTotal   *prometheus.CounterVec
	billGenerateLatency *prometheus.HistogramVec
	billAmountPence     prometheus.Histogram
	billBatchTotal      *prometheus.CounterVec
	billBatchLatency    prometheus.Histogram
	billExportTotal     *prometheus.CounterVec
	billExportLatency   *prometheus.HistogramVec
	rateBandCacheTotal  *prometheus.CounterVec
)

// Init registers billing metrics and, when db is set, DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		billGenerateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bill_generate_total",
				Help: "Total bill generate operations by result",
			},
			[]string{"result"},
		)
		billGenerateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "bill_generate_latency_seconds",
				Help:    "Bill generate latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		billAmountPence = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "bill_total_amount_pence",
				Help:    "Distribution of generated bill totals in pence",
				Buckets: prometheus.ExponentialBuckets(100, 2, 14),
			},
		)
		billBatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bill_batch_customers_total",
				Help: "Customers processed by batch generation by result",
			},
			[]string{"result"},
		)
		billBatchLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "bill_batch_latency_seconds",
				Help:    "Batch generation latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		)
		billExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bill_export_total",
				Help: "Total bill export operations by format and result",
			},
			[]string{"format", "result"},
		)
		billExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "bill_export_latency_seconds",
				Help:    "Bill export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)
		rateBandCacheTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rate_band_cache_total",
				Help: "Rate band cache lookups by outcome",
			},
			[]string{"outcome"},
		)

		prometheus.MustRegister(
			billGenerateTotal,
			billGenerateLatency,
			billAmountPence,
			billBatchTotal,
			billBatchLatency,
			billExportTotal,
			billExportLatency,
			rateBandCacheTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveBillGenerate records generate latency and result.
func ObserveBillGenerate(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if billGenerateTotal != nil {
		billGenerateTotal.WithLabelValues(result).Inc()
	}
	if billGenerateLatency != nil {
		billGenerateLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveBillAmount records a generated bill total.
func ObserveBillAmount(pence float64) {
	if billAmountPence != nil && pence >= 0 {
		billAmountPence.Observe(pence)
	}
}

// IncBatchCustomer increments the batch counter for one customer outcome.
func IncBatchCustomer(result string) {
	if result == "" {
		result = "unknown"
	}
	if billBatchTotal != nil {
		billBatchTotal.WithLabelValues(result).Inc()
	}
}

// ObserveBatch records a batch run duration.
func ObserveBatch(duration time.Duration) {
	if billBatchLatency != nil {
		billBatchLatency.Observe(duration.Seconds())
	}
}

// ObserveBillExport records export latency and result.
func ObserveBillExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if billExportTotal != nil {
		billExportTotal.WithLabelValues(format, result).Inc()
	}
	if billExportLatency != nil {
		billExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncRateBandCache counts a cache hit, miss or error.
func IncRateBandCache(outcome string) {
	if rateBandCacheTotal != nil {
		rateBandCacheTotal.WithLabelValues(outcome).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess   = resultSuccess
	ResultError     = resultError
	ResultDuplicate = resultDuplicate
	ResultRejected  = resultRejected

	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)
