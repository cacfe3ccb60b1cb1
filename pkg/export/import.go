package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nicktill/tinylog/pkg/ingest"
	"github.com/nicktill/tinylog/pkg/record"
	"github.com/nicktill/tinylog/pkg/storage"
)

const (
	// MaxImportRecords caps how many records one archive may carry
	MaxImportRecords = 100000

	// maxReportedErrors caps the per-record errors kept in an ImportResult
	maxReportedErrors = 100
)

// ErrTooManyRecords is returned for archives above MaxImportRecords
var ErrTooManyRecords = errors.New("archive has too many records")

// Importer restores records from JSON archives. Records are written one by one
// through the persistence port and get fresh identifiers.
type Importer struct {
	port storage.Port
}

// NewImporter creates a new importer
func NewImporter(port storage.Port) *Importer {
	return &Importer{port: port}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	RecordsImported int       `json:"records_imported"`
	RecordsSkipped  int       `json:"records_skipped"`
	RecordsFailed   int       `json:"records_failed"`
	TimeRange       string    `json:"time_range"`
	ImportedAt      time.Time `json:"imported_at"`
	Errors          []string  `json:"errors,omitempty"`
}

func (r *ImportResult) addError(format string, args ...any) {
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	}
}

// ImportFromJSON imports records from a JSON archive. Invalid records are
// skipped and reported; a persist failure is counted and the import goes on,
// unless ctx is done.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var archive Archive
	if err := json.NewDecoder(r).Decode(&archive); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	if len(archive.Logs) > MaxImportRecords {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyRecords, len(archive.Logs), MaxImportRecords)
	}

	result := &ImportResult{ImportedAt: time.Now().UTC(), TimeRange: "empty"}
	now := time.Now()

	var minTime, maxTime time.Time
	for i, entry := range archive.Logs {
		entry, err := normalizeEntry(entry, now)
		if err != nil {
			result.RecordsSkipped++
			result.addError("record %d: %v", i, err)
			continue
		}

		if err := im.port.Persist(ctx, record.FromEntry(entry), storage.DefaultIsolation); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, fmt.Errorf("import interrupted after %d records: %w", result.RecordsImported, ctxErr)
			}
			result.RecordsFailed++
			result.addError("record %d: failed to persist: %v", i, err)
			continue
		}

		result.RecordsImported++
		if minTime.IsZero() || entry.Timestamp.Before(minTime) {
			minTime = entry.Timestamp
		}
		if entry.Timestamp.After(maxTime) {
			maxTime = entry.Timestamp
		}
	}

	if result.RecordsImported > 0 {
		result.TimeRange = fmt.Sprintf("%s to %s", minTime.Format(time.RFC3339), maxTime.Format(time.RFC3339))
	}
	return result, nil
}

// normalizeEntry resolves the level name, clears the old identifier and
// applies the same limits as the ingest endpoint.
func normalizeEntry(e record.Entry, now time.Time) (record.Entry, error) {
	level, err := record.ParseLevel(e.LevelName)
	if err != nil {
		return e, fmt.Errorf("%w: %v", ingest.ErrInvalidLevel, err)
	}
	e.Level = level
	e.ID = 0

	if e.Timestamp.IsZero() {
		return e, errors.New("timestamp cannot be zero")
	}
	if err := ingest.ValidateEntry(e, now); err != nil {
		return e, err
	}
	return e, nil
}
