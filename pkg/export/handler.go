package export

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/nicktill/tinylog/pkg/httpx"
	"github.com/nicktill/tinylog/pkg/record"
	"github.com/nicktill/tinylog/pkg/storage"
)

const (
	// DefaultExportWindow is the default time range for exports (last 24 hours)
	DefaultExportWindow = 24 * time.Hour

	// MaxExportWindow is the maximum allowed export time range (30 days)
	MaxExportWindow = 30 * 24 * time.Hour

	// MaxImportBodyBytes caps the (decompressed) import body
	MaxImportBodyBytes = 256 << 20
)

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
}

// NewHandler creates a new export/import handler
func NewHandler(store storage.Storage) *Handler {
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store),
	}
}

// HandleExport handles GET /v1/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - compress: "gzip" to gzip the file (optional)
//   - start, end: RFC3339 or Unix seconds (default: last 24h)
//   - level, category, host: filters (optional)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid format, must be 'json' or 'csv'")
		return
	}

	compress := query.Get("compress")
	if compress != "" && compress != "gzip" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid compress, must be 'gzip'")
		return
	}

	end := parseTimeParam(query.Get("end"), time.Now().UTC())
	start := parseTimeParam(query.Get("start"), end.Add(-DefaultExportWindow))
	if !start.Before(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}
	if end.Sub(start) > MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("time range too large, maximum is %v", MaxExportWindow))
		return
	}

	opts := ExportOptions{
		Start:    start,
		End:      end,
		Category: query.Get("category"),
		Host:     query.Get("host"),
		Format:   format,
	}
	if s := query.Get("level"); s != "" {
		level, err := record.ParseLevel(s)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		opts.MinLevel = level
	}

	filename := fmt.Sprintf("tinylog-export-%s.%s", time.Now().Format("20060102-150405"), format)
	contentType := "application/json"
	if format == "csv" {
		contentType = "text/csv"
	}

	var out io.Writer = w
	var gz *gzip.Writer
	if compress == "gzip" {
		filename += ".gz"
		contentType = "application/gzip"
		gz = gzip.NewWriter(w)
		out = gz
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)

	var result *ExportResult
	var err error
	if format == "json" {
		result, err = h.exporter.ExportToJSON(r.Context(), out, opts)
	} else {
		result, err = h.exporter.ExportToCSV(r.Context(), out, opts)
	}
	if err != nil {
		// Once encoding has started the status is already sent; the client
		// sees a truncated file
		log.Printf("Export failed: %v", err)
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			log.Printf("Export failed to finish gzip stream: %v", err)
			return
		}
	}

	log.Printf("Exported %d records (%s) from %s", result.RecordsExported, format, result.TimeRange)
}

// HandleImport handles POST /v1/import. The body is a JSON archive, optionally
// gzipped (Content-Encoding: gzip or Content-Type: application/gzip).
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	gzipped := r.Header.Get("Content-Encoding") == "gzip" || contentType == "application/gzip"
	if !gzipped && !strings.HasPrefix(contentType, "application/json") {
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json or application/gzip")
		return
	}

	var body io.Reader = r.Body
	if gzipped {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid gzip body: %w", err))
			return
		}
		defer gz.Close()
		body = gz
	}
	body = io.LimitReader(body, MaxImportBodyBytes)

	result, err := h.importer.ImportFromJSON(r.Context(), body)
	if err != nil {
		log.Printf("Import failed: %v", err)
		status := http.StatusBadRequest
		if result != nil {
			status = http.StatusInternalServerError
		}
		httpx.RespondError(w, status, err)
		return
	}

	if n := result.RecordsSkipped + result.RecordsFailed; n > 0 {
		log.Printf("Import completed with %d skipped and %d failed records", result.RecordsSkipped, result.RecordsFailed)
	}
	log.Printf("Imported %d records from %s", result.RecordsImported, result.TimeRange)

	httpx.RespondJSON(w, http.StatusOK, result)
}

// parseTimeParam parses RFC3339 or Unix seconds, or returns the default
func parseTimeParam(param string, defaultTime time.Time) time.Time {
	if param == "" {
		return defaultTime
	}
	if t, err := time.Parse(time.RFC3339, param); err == nil {
		return t.UTC()
	}
	if secs, err := strconv.ParseInt(param, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return defaultTime
}
