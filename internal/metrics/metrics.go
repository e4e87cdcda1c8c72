package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldops",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	sheetOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldops",
			Name:      "sheet_operations_total",
			Help:      "Spreadsheet operations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	sheetSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fieldops",
			Name:      "sheet_sync_duration_seconds",
			Help:      "Duration of full spreadsheet resyncs.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	sheetRowsWritten = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fieldops",
			Name:      "sheet_rows_written",
			Help:      "Rows written by the last full resync, date headers included.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, sheetOperations, sheetSyncDuration, sheetRowsWritten)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveSheetOperation counts one spreadsheet operation.
func ObserveSheetOperation(operation, outcome string) {
	sheetOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveSheetSync records a finished resync.
func ObserveSheetSync(d time.Duration, rows int) {
	sheetSyncDuration.Observe(d.Seconds())
	sheetRowsWritten.Set(float64(rows))
}
