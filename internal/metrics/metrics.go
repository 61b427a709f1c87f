// Package metrics exposes process-wide Prometheus collectors for the HTTP
// API and the crawl throttle.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	throttleDelaySeconds       prometheus.Histogram
	exportRowsTotal            prometheus.Counter
	importRowsTotal            *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		throttleDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "filmratings_throttle_delay_seconds",
				Help:    "Time spent waiting on the politeness delay before a registry fetch.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		exportRowsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "filmratings_export_rows_total",
				Help: "Rows written by CSV exports.",
			},
		)

		importRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filmratings_import_rows_total",
				Help: "Rows read by the bulk CSV importer, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveThrottleDelay records how long a fetch waited on the politeness delay.
func ObserveThrottleDelay(duration time.Duration) {
	Init()
	throttleDelaySeconds.Observe(duration.Seconds())
}

// AddExportRows counts rows streamed by an export.
func AddExportRows(n int) {
	Init()
	exportRowsTotal.Add(float64(n))
}

// Importer row outcomes, used as the result label of the import counter.
const (
	ImportInserted  = "inserted"
	ImportDuplicate = "duplicate"
	ImportRejected  = "rejected"
)

// ObserveImportRow counts one importer row; result is ImportInserted,
// ImportDuplicate or ImportRejected.
func ObserveImportRow(result string) {
	Init()
	importRowsTotal.WithLabelValues(result).Inc()
}
