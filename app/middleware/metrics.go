package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Total HTTP requests partitioned by method, route, and status code
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	// Request duration in seconds partitioned by method, route, and status code
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// In-flight HTTP requests
	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// Ingestion rows processed, partitioned by validation result
	ingestionRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestion_rows_total",
			Help: "Total number of upload rows processed, by validation result",
		},
		[]string{"result"},
	)

	// Dispatch attempts partitioned by channel and outcome classification
	dispatchResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_results_total",
			Help: "Total number of dispatch attempts, by channel and provider outcome",
		},
		[]string{"channel", "result"},
	)

	// Delivery receipts partitioned by reported status and processing outcome
	deliveryReceiptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_receipts_total",
			Help: "Total number of delivery receipts received, by status and outcome",
		},
		[]string{"status", "outcome"},
	)

	// Leases reclaimed by the expiry sweep
	requeuedLeasesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "requeued_leases_total",
			Help: "Total number of expired leases returned to the queue",
		},
	)
)

// Metrics returns a Fiber v3 middleware that records basic Prometheus metrics.
// Labels are kept low-cardinality by using the matched route path when available.
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		err := c.Next()

		status := c.Response().StatusCode()
		method := c.Method()
		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path // Use route template to avoid high cardinality
		}

		labels := prometheus.Labels{
			"method": method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())

		return err
	}
}

// RecordIngestedRow counts one processed upload row ("valid" or "failed")
func RecordIngestedRow(result string) {
	ingestionRowsTotal.WithLabelValues(result).Inc()
}

// RecordDispatchResult counts one dispatch attempt outcome per channel
func RecordDispatchResult(channel, result string) {
	dispatchResultsTotal.WithLabelValues(channel, result).Inc()
}

// RecordDeliveryReceipt counts one processed delivery receipt
func RecordDeliveryReceipt(status, outcome string) {
	deliveryReceiptsTotal.WithLabelValues(status, outcome).Inc()
}

// RecordRequeuedLeases counts leases reclaimed by the expiry sweep
func RecordRequeuedLeases(n int64) {
	requeuedLeasesTotal.Add(float64(n))
}
