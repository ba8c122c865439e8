package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "twinhub_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	readingsIngestTotal   *prometheus.CounterVec
	readingsIngestPoints  prometheus.Counter
	readingsIngestLatency *prometheus.HistogramVec

	readingsExportTotal   *prometheus.CounterVec
	readingsExportLatency *prometheus.HistogramVec

	modelRunTotal   *prometheus.CounterVec
	modelRunLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by method, route group and status",
			},
			[]string{"method", "route", "status"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_latency_seconds",
				Help:    "HTTP request latency in seconds by route group",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		)

		readingsIngestTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_ingest_total",
				Help: "Total sensor reading ingest batches by result",
			},
			[]string{"result"},
		)
		readingsIngestPoints = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_ingest_points_total",
				Help: "Total sensor reading points accepted",
			},
		)
		readingsIngestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "readings_ingest_latency_seconds",
				Help:    "Sensor reading ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		readingsExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_export_total",
				Help: "Total reading export operations by format and result",
			},
			[]string{"format", "result"},
		)
		readingsExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "readings_export_latency_seconds",
				Help:    "Reading export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		modelRunTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "model_run_inserts_total",
				Help: "Total model run inserts by result",
			},
			[]string{"result"},
		)
		modelRunLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "model_run_insert_latency_seconds",
				Help:    "Model run insert latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			httpRequests,
			httpLatency,
			readingsIngestTotal,
			readingsIngestPoints,
			readingsIngestLatency,
			readingsExportTotal,
			readingsExportLatency,
			modelRunTotal,
			modelRunLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveHTTPRequest records a finished HTTP request.
func ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	if route == "" {
		route = "unknown"
	}
	if httpRequests != nil {
		httpRequests.WithLabelValues(method, route, status).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(route).Observe(duration.Seconds())
	}
}

// ObserveReadingsIngest records an ingest batch result and its point count.
func ObserveReadingsIngest(result string, points int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if readingsIngestTotal != nil {
		readingsIngestTotal.WithLabelValues(result).Inc()
	}
	if result == resultSuccess && points > 0 && readingsIngestPoints != nil {
		readingsIngestPoints.Add(float64(points))
	}
	if readingsIngestLatency != nil {
		readingsIngestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveReadingsExport records export latency and result.
func ObserveReadingsExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if readingsExportTotal != nil {
		readingsExportTotal.WithLabelValues(format, result).Inc()
	}
	if readingsExportLatency != nil {
		readingsExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// ObserveModelRunInsert records model run insert latency and result.
func ObserveModelRunInsert(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if modelRunTotal != nil {
		modelRunTotal.WithLabelValues(result).Inc()
	}
	if modelRunLatency != nil {
		modelRunLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
