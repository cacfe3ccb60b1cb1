package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/nicktill/tinylog/pkg/record"
)

// DefaultIsolation is the isolation level used for persist and purge when the
// caller has no preference.
const DefaultIsolation = sql.LevelReadCommitted

// Port is the persistence contract the flush worker writes through.
// Implementations: memory (testing), badger (embedded), sqlstore (relational)
type Port interface {
	// Persist writes one record in its own unit of work and assigns its
	// identifier. A cancelled ctx aborts the write before it commits.
	Persist(ctx context.Context, rec *record.Record, iso sql.IsolationLevel) error

	// Purge removes records with a timestamp strictly before the cutoff and
	// returns how many were removed. Records exactly at the cutoff are kept.
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Storage is a Port that can also be read back.
type Storage interface {
	Port

	// Query retrieves records within a time range
	Query(ctx context.Context, req QueryRequest) ([]*record.Record, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// QueryRequest specifies what records to retrieve
type QueryRequest struct {
	// Time range (inclusive)
	Start time.Time
	End   time.Time

	// Minimum severity (optional, zero value = trace = everything)
	MinLevel record.Level

	// Filter by category and host (optional)
	Category string
	Host     string

	// Limit number of results (0 = no limit)
	Limit int
}

// Matches reports whether r satisfies every filter in the request.
func (req QueryRequest) Matches(r *record.Record) bool {
	ts := r.Timestamp()
	if ts.Before(req.Start) || ts.After(req.End) {
		return false
	}
	if r.Level() < req.MinLevel {
		return false
	}
	if req.Category != "" && r.Category() != req.Category {
		return false
	}
	if req.Host != "" && r.Host() != req.Host {
		return false
	}
	return true
}

// Stats provides storage health and usage info
type Stats struct {
	// Total records stored
	TotalRecords uint64 `json:"total_records"`

	// Distinct host/category pairs
	TotalSources uint64 `json:"total_sources"`

	// Storage size in bytes (estimate for non-disk backends)
	SizeBytes uint64 `json:"size_bytes"`

	// Oldest and newest record timestamps
	OldestRecord time.Time `json:"oldest_record"`
	NewestRecord time.Time `json:"newest_record"`
}
