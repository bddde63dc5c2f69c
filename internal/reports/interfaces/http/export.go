package reportshttp

import (
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"cems-cloud/internal/observability/metrics"
	"cems-cloud/internal/reports/application"
)

// flushEvery is the CSV row interval between forced flushes to the client.
const flushEvery = 500

// ExportHandler serves file downloads under /api/v1/exports/.
type ExportHandler struct {
	service *application.Service
	logger  *log.Logger
}

// NewExportHandler constructs an export handler.
func NewExportHandler(service *application.Service, logger *log.Logger) (*ExportHandler, error) {
	if service == nil {
		return nil, errors.New("export handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ExportHandler{service: service, logger: logger}, nil
}

func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch r.URL.Path {
	case "/api/v1/exports/sensor-data.csv.gz":
		h.handleCSV(w, r)
	case "/api/v1/exports/sensor-data.xlsx":
		h.handleXLSX(w, r)
	case "/api/v1/exports/sensor-data.pdf":
		h.handlePDF(w, r)
	default:
		http.NotFound(w, r)
	}
}

var exportHeader = []string{"time_bucket", "station", "parameter", "unit", "avg_value", "stddev_value", "n"}

// handleCSV streams rows straight from the cursor through gzip. Once the
// first row is written the status is committed, so mid-stream failures can
// only be logged and the stream truncated.
func (h *ExportHandler) handleCSV(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	req, err := parseSeriesRequest(r)
	if err != nil {
		metrics.ObserveExport("csv", metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="sensor-data.csv.gz"`)

	gz := gzip.NewWriter(w)
	csvw := csv.NewWriter(gz)
	flusher, _ := w.(http.Flusher)

	wroteHeader := false
	rowCount := 0
	_, err = h.service.StreamExport(r.Context(), req, func(row application.ExportRow) error {
		if !wroteHeader {
			if err := csvw.Write(exportHeader); err != nil {
				return err
			}
			wroteHeader = true
		}
		if err := csvw.Write(csvRecord(row)); err != nil {
			return err
		}
		rowCount++
		if rowCount%flushEvery == 0 {
			csvw.Flush()
			if err := csvw.Error(); err != nil {
				return err
			}
			if err := gz.Flush(); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		return nil
	})
	if err != nil {
		if !wroteHeader {
			metrics.ObserveExport("csv", metrics.ResultError, time.Since(started))
			respondReportError(w, err)
			return
		}
		h.logger.Printf("csv export truncated after %d rows: %v", rowCount, err)
		metrics.ObserveExport("csv", metrics.ResultError, time.Since(started))
		return
	}
	if !wroteHeader {
		if err := csvw.Write(exportHeader); err != nil {
			h.logger.Printf("csv export header: %v", err)
		}
	}
	csvw.Flush()
	if err := gz.Close(); err != nil {
		h.logger.Printf("csv export close: %v", err)
	}
	metrics.ObserveExport("csv", metrics.ResultSuccess, time.Since(started))
}

func (h *ExportHandler) handleXLSX(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	req, err := parseSeriesRequest(r)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	meta, rows, err := h.service.CollectExport(r.Context(), req)
	if err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(started))
		respondReportError(w, err)
		return
	}
	data, err := buildExportXLSX(meta, rows)
	if err != nil {
		h.logger.Printf("xlsx export render: %v", err)
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(started))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="sensor-data.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
	metrics.ObserveExport("xlsx", metrics.ResultSuccess, time.Since(started))
}

func (h *ExportHandler) handlePDF(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	req, err := parseSeriesRequest(r)
	if err != nil {
		metrics.ObserveExport("pdf", metrics.ResultError, time.Since(started))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	meta, rows, err := h.service.CollectExport(r.Context(), req)
	if err != nil {
		metrics.ObserveExport("pdf", metrics.ResultError, time.Since(started))
		respondReportError(w, err)
		return
	}
	data, err := buildExportPDF(meta, rows)
	if err != nil {
		h.logger.Printf("pdf export render: %v", err)
		metrics.ObserveExport("pdf", metrics.ResultError, time.Since(started))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="sensor-data.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
	metrics.ObserveExport("pdf", metrics.ResultSuccess, time.Since(started))
}

func csvRecord(row application.ExportRow) []string {
	return []string{
		row.TimeBucket.Format(time.RFC3339),
		row.Station,
		row.Parameter,
		row.Unit,
		formatFloat(row.Avg),
		formatFloat(row.StdDev),
		strconv.FormatInt(row.Count, 10),
	}
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.4f", *v)
}
