package memory

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/tinylog/pkg/record"
	"github.com/nicktill/tinylog/pkg/storage"
)

// Storage stores records in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	records []*record.Record
	mu      sync.RWMutex
	nextID  atomic.Int64
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		records: make([]*record.Record, 0, 1024),
	}
}

// Persist stores one record and assigns its identifier
func (s *Storage) Persist(ctx context.Context, rec *record.Record, _ sql.IsolationLevel) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := rec.AssignID(s.nextID.Add(1)); err != nil {
		return err
	}
	s.records = append(s.records, rec)
	return nil
}

// Purge removes records older than the cutoff
func (s *Storage) Purge(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]*record.Record, 0, len(s.records))
	for _, r := range s.records {
		if !r.Timestamp().Before(before) {
			kept = append(kept, r)
		}
	}

	removed := int64(len(s.records) - len(kept))
	s.records = kept
	return removed, nil
}

// Query retrieves records matching the request
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*record.Record
	for _, r := range s.records {
		if !req.Matches(r) {
			continue
		}

		results = append(results, r)

		if req.Limit > 0 && len(results) >= req.Limit {
			break
		}
	}

	return results, nil
}

// Len returns the number of stored records
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalRecords: uint64(len(s.records)),
	}

	if len(s.records) == 0 {
		return stats, nil
	}

	// Count unique sources and find min/max timestamps in single pass
	sources := make(map[string]struct{})
	oldest := s.records[0].Timestamp()
	newest := s.records[0].Timestamp()
	var size uint64

	for _, r := range s.records {
		sources[r.Host()+"|"+r.Category()] = struct{}{}

		if r.Timestamp().Before(oldest) {
			oldest = r.Timestamp()
		}
		if r.Timestamp().After(newest) {
			newest = r.Timestamp()
		}

		size += uint64(len(r.Host()) + len(r.Category()) + len(r.Message()) + len(r.Exception()) + 24)
	}

	stats.TotalSources = uint64(len(sources))
	stats.OldestRecord = oldest
	stats.NewestRecord = newest
	stats.SizeBytes = size

	return stats, nil
}
