// Package metrics provides Prometheus metrics for the article sync API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRequestsTotal counts sync round-trips by endpoint and status.
	SyncRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "articlesync",
			Name:      "sync_requests_total",
			Help:      "Total number of sync requests",
		},
		[]string{"endpoint", "status"},
	)

	// SyncDuration measures full round-trip duration.
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "articlesync",
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// RecordsPushedTotal counts pushed records by outcome.
	RecordsPushedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "articlesync",
			Name:      "records_pushed_total",
			Help:      "Total number of pushed records by outcome",
		},
		[]string{"outcome"},
	)

	// RecordsHealedTotal counts truncated records replaced by a complete copy.
	RecordsHealedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "articlesync",
			Name:      "records_healed_total",
			Help:      "Total number of records accepted through content healing",
		},
	)

	// PullPageSize observes the number of records returned per pull.
	PullPageSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "articlesync",
			Name:      "pull_page_size",
			Help:      "Distribution of records returned per pull",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		},
	)

	// StoreOpDuration measures store calls by backend and operation.
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "articlesync",
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// StoreErrorsTotal counts store operations that hit a backend fault.
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "articlesync",
			Name:      "store_errors_total",
			Help:      "Total number of store operations that failed",
		},
		[]string{"backend", "operation"},
	)
)

// RecordSync records one sync request.
func RecordSync(endpoint, status string, start time.Time) {
	SyncRequestsTotal.WithLabelValues(endpoint, status).Inc()
	SyncDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// RecordPush records per-outcome push counts for one batch.
func RecordPush(inserted, updated, failed, healed int) {
	RecordsPushedTotal.WithLabelValues("inserted").Add(float64(inserted))
	RecordsPushedTotal.WithLabelValues("updated").Add(float64(updated))
	RecordsPushedTotal.WithLabelValues("failed").Add(float64(failed))
	RecordsHealedTotal.Add(float64(healed))
}

// RecordPull records the size of one pulled page.
func RecordPull(n int) {
	PullPageSize.Observe(float64(n))
}

// RecordStoreOp records the duration and failure of one store call.
func RecordStoreOp(backend, op string, start time.Time, err error) {
	StoreOpDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	if err != nil {
		StoreErrorsTotal.WithLabelValues(backend, op).Inc()
	}
}
