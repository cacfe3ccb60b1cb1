package ingest

import (
	"fmt"
	"time"

	"github.com/nicktill/tinylog/pkg/record"
)

// Validation and cardinality limits
const (
	// Per-record limits
	MaxMessageLength   = 32 * 1024 // Maximum message length in bytes
	MaxExceptionLength = 64 * 1024 // Maximum exception length in bytes
	MaxCategoryLength  = 256       // Maximum category length
	MaxHostLength      = 255       // Maximum host name length

	// Global limits
	MaxUniqueSources     = 50000 // Maximum distinct host/category pairs
	MaxSourcesPerHost    = 5000  // Maximum categories reported by a single host
	MaxRecordsPerRequest = 1000  // Maximum records in a single ingest request
)

// MaxClockSkew is how far a record timestamp may run ahead of the server clock
const MaxClockSkew = 24 * time.Hour

var (
	// ErrMessageEmpty is returned when a record has no message
	ErrMessageEmpty = fmt.Errorf("message cannot be empty")

	// ErrMessageTooLong is returned when a message is too long
	ErrMessageTooLong = fmt.Errorf("message too long (max %d bytes)", MaxMessageLength)

	// ErrExceptionTooLong is returned when an exception is too long
	ErrExceptionTooLong = fmt.Errorf("exception too long (max %d bytes)", MaxExceptionLength)

	// ErrCategoryTooLong is returned when a category is too long
	ErrCategoryTooLong = fmt.Errorf("category too long (max %d chars)", MaxCategoryLength)

	// ErrHostTooLong is returned when a host name is too long
	ErrHostTooLong = fmt.Errorf("host too long (max %d chars)", MaxHostLength)

	// ErrInvalidLevel is returned for an unknown or out-of-range level
	ErrInvalidLevel = fmt.Errorf("invalid level")

	// ErrTimestampOutOfRange is returned for timestamps before the Unix epoch
	// or more than MaxClockSkew ahead of the server clock
	ErrTimestampOutOfRange = fmt.Errorf("timestamp out of range")

	// ErrSourceLimit is returned when the total source limit is exceeded
	ErrSourceLimit = fmt.Errorf("source limit exceeded (max %d host/category pairs)", MaxUniqueSources)

	// ErrHostSourceLimit is returned when a single host reports too many categories
	ErrHostSourceLimit = fmt.Errorf("host source limit exceeded (max %d categories per host)", MaxSourcesPerHost)

	// ErrTooManyRecords is returned when an ingest request contains too many records
	ErrTooManyRecords = fmt.Errorf("too many records in request (max %d)", MaxRecordsPerRequest)
)

// ValidateEntry validates an incoming record against the per-record limits.
// now is the server clock used for the timestamp window.
func ValidateEntry(e record.Entry, now time.Time) error {
	if !e.Level.Valid() || e.Level == record.LevelNone {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, e.Level)
	}
	if e.Message == "" {
		return ErrMessageEmpty
	}
	if len(e.Message) > MaxMessageLength {
		return fmt.Errorf("%w: got %d bytes", ErrMessageTooLong, len(e.Message))
	}
	if len(e.Exception) > MaxExceptionLength {
		return fmt.Errorf("%w: got %d bytes", ErrExceptionTooLong, len(e.Exception))
	}
	if len(e.Category) > MaxCategoryLength {
		return fmt.Errorf("%w: category %.32q...", ErrCategoryTooLong, e.Category)
	}
	if len(e.Host) > MaxHostLength {
		return fmt.Errorf("%w: got %d chars", ErrHostTooLong, len(e.Host))
	}
	return ValidateTimestamp(e.Timestamp, now)
}

// ValidateTimestamp accepts timestamps from the Unix epoch up to
// now+MaxClockSkew. Stores key records by Unix nanoseconds, so anything
// outside that window cannot be ordered or purged correctly.
func ValidateTimestamp(ts, now time.Time) error {
	if ts.Before(time.Unix(0, 0)) {
		return fmt.Errorf("%w: %s is before 1970", ErrTimestampOutOfRange, ts.Format(time.RFC3339))
	}
	if ts.After(now.Add(MaxClockSkew)) {
		return fmt.Errorf("%w: %s is too far in the future", ErrTimestampOutOfRange, ts.Format(time.RFC3339))
	}
	return nil
}
