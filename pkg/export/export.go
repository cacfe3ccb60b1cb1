package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/tinylog/pkg/record"
	"github.com/nicktill/tinylog/pkg/storage"
)

// FormatVersion is written into every JSON export
const FormatVersion = "1.0"

// Exporter handles exporting log records to various formats
type Exporter struct {
	storage storage.Storage
}

// NewExporter creates a new exporter
func NewExporter(store storage.Storage) *Exporter {
	return &Exporter{storage: store}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Time range to export
	Start time.Time
	End   time.Time

	// Optional filters, same semantics as the query endpoint
	MinLevel record.Level
	Category string
	Host     string

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	RecordsExported int       `json:"records_exported"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Metadata describes a JSON export
type Metadata struct {
	ExportedAt  time.Time `json:"exported_at"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	RecordCount int       `json:"record_count"`
	Format      string    `json:"format"`
	Version     string    `json:"version"`
}

// Archive is the JSON export document; it is also what the importer reads.
type Archive struct {
	Metadata Metadata       `json:"metadata"`
	Logs     []record.Entry `json:"logs"`
}

func (e *Exporter) query(ctx context.Context, opts ExportOptions) ([]*record.Record, error) {
	records, err := e.storage.Query(ctx, storage.QueryRequest{
		Start:    opts.Start,
		End:      opts.End,
		MinLevel: opts.MinLevel,
		Category: opts.Category,
		Host:     opts.Host,
		Limit:    0, // No limit - export everything
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	return records, nil
}

// ExportToJSON exports records as a JSON archive to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	records, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	archive := Archive{
		Metadata: Metadata{
			ExportedAt:  time.Now().UTC(),
			StartTime:   opts.Start,
			EndTime:     opts.End,
			RecordCount: len(records),
			Format:      "json",
			Version:     FormatVersion,
		},
		Logs: make([]record.Entry, len(records)),
	}
	for i, rec := range records {
		archive.Logs[i] = rec.Entry()
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(archive); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		RecordsExported: len(records),
		TimeRange:       timeRange(opts),
		Format:          "json",
		ExportedAt:      archive.Metadata.ExportedAt,
	}, nil
}

// csvHeader is the fixed column order of CSV exports
var csvHeader = []string{"id", "timestamp", "host", "level", "category", "message", "exception"}

// ExportToCSV exports records as CSV to the given writer. CSV is export-only.
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	records, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.ID(), 10),
			rec.Timestamp().Format(time.RFC3339Nano),
			rec.Host(),
			rec.Level().String(),
			rec.Category(),
			rec.Message(),
			rec.Exception(),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		RecordsExported: len(records),
		TimeRange:       timeRange(opts),
		Format:          "csv",
		ExportedAt:      time.Now().UTC(),
	}, nil
}

func timeRange(opts ExportOptions) string {
	return fmt.Sprintf("%s to %s", opts.Start.Format(time.RFC3339), opts.End.Format(time.RFC3339))
}
