package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "cems_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
	ingestReadings prometheus.Counter

	reportQueryTotal   *prometheus.CounterVec
	reportQueryLatency *prometheus.HistogramVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	availabilityTotal   *prometheus.CounterVec
	availabilityLatency *prometheus.HistogramVec

	calibrationPushTotal   *prometheus.CounterVec
	calibrationPushLatency *prometheus.HistogramVec

	alertEventsTotal *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		ingestReadings = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_readings_total",
				Help: "Total accepted raw readings",
			},
		)

		reportQueryTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_query_total",
				Help: "Total report queries by kind and result",
			},
			[]string{"kind", "result"},
		)
		reportQueryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_query_latency_seconds",
				Help:    "Report query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total export operations by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		availabilityTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "availability_calc_total",
				Help: "Total availability calculations by result",
			},
			[]string{"result"},
		)
		availabilityLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "availability_calc_latency_seconds",
				Help:    "Availability calculation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		calibrationPushTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "calibration_push_total",
				Help: "Total calibration pushes to data loggers by result",
			},
			[]string{"result"},
		)
		calibrationPushLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "calibration_push_latency_seconds",
				Help:    "Calibration push latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			ingestReadings,
			reportQueryTotal,
			reportQueryLatency,
			exportTotal,
			exportLatency,
			availabilityTotal,
			availabilityLatency,
			calibrationPushTotal,
			calibrationPushLatency,
			alertEventsTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// AddIngestReadings counts accepted raw readings.
func AddIngestReadings(count int) {
	if count <= 0 {
		return
	}
	if ingestReadings != nil {
		ingestReadings.Add(float64(count))
	}
}

// ObserveReportQuery records report query latency and result.
func ObserveReportQuery(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportQueryTotal != nil {
		reportQueryTotal.WithLabelValues(kind, result).Inc()
	}
	if reportQueryLatency != nil {
		reportQueryLatency.WithLabelValues(kind, result).Observe(duration.Seconds())
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// ObserveAvailability records availability calculation latency and result.
func ObserveAvailability(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if availabilityTotal != nil {
		availabilityTotal.WithLabelValues(result).Inc()
	}
	if availabilityLatency != nil {
		availabilityLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveCalibrationPush records calibration push latency and result.
func ObserveCalibrationPush(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if calibrationPushTotal != nil {
		calibrationPushTotal.WithLabelValues(result).Inc()
	}
	if calibrationPushLatency != nil {
		calibrationPushLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
