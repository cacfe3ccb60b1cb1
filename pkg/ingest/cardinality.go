package ingest

import (
	"strings"
	"sync"
	"time"
)

// SourceTracker tracks distinct host/category pairs to enforce cardinality
// limits on the ingest endpoint. Sources not seen for a day are forgotten.
type SourceTracker struct {
	mu sync.RWMutex

	// perHost tracks distinct categories per host
	perHost map[string]int

	// seen maps sourceKey(host, category) to its last sighting
	seen map[string]time.Time

	lastCleanup time.Time
	now         func() time.Time
}

const (
	// Forget sources not seen in the last 24 hours
	sourceRetentionPeriod = 24 * time.Hour

	// Run cleanup at most every hour
	cleanupInterval = 1 * time.Hour
)

// NewSourceTracker creates a new source tracker
func NewSourceTracker() *SourceTracker {
	return &SourceTracker{
		perHost:     make(map[string]int),
		seen:        make(map[string]time.Time),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Check validates that accepting a record from this source won't exceed the
// cardinality limits. Known sources always pass.
func (s *SourceTracker) Check(host, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupLocked()

	if _, exists := s.seen[sourceKey(host, category)]; exists {
		return nil
	}
	if len(s.seen) >= MaxUniqueSources {
		return ErrSourceLimit
	}
	if s.perHost[host] >= MaxSourcesPerHost {
		return ErrHostSourceLimit
	}
	return nil
}

// Record marks a source as seen. Call it after Check passes and the record is queued.
func (s *SourceTracker) Record(host, category string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sourceKey(host, category)
	if _, existed := s.seen[key]; !existed {
		s.perHost[host]++
	}
	s.seen[key] = s.now()
}

// cleanupLocked drops sources older than sourceRetentionPeriod.
// MUST be called with lock held.
func (s *SourceTracker) cleanupLocked() {
	now := s.now()
	if now.Sub(s.lastCleanup) < cleanupInterval {
		return
	}
	s.lastCleanup = now
	cutoff := now.Add(-sourceRetentionPeriod)

	for key, lastSeen := range s.seen {
		if !lastSeen.Before(cutoff) {
			continue
		}
		delete(s.seen, key)
		host, _, _ := strings.Cut(key, "\x00")
		if s.perHost[host]--; s.perHost[host] <= 0 {
			delete(s.perHost, host)
		}
	}
}

// Stats returns current cardinality statistics
func (s *SourceTracker) Stats() SourceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var busiest string
	var busiestCount int
	for host, count := range s.perHost {
		if count > busiestCount || (count == busiestCount && host < busiest) {
			busiestCount = count
			busiest = host
		}
	}

	return SourceStats{
		TotalSources:   len(s.seen),
		UniqueHosts:    len(s.perHost),
		BusiestHost:    busiest,
		BusiestCount:   busiestCount,
		SourceLimit:    MaxUniqueSources,
		PerHostLimit:   MaxSourcesPerHost,
		UtilizationPct: float64(len(s.seen)) / float64(MaxUniqueSources) * 100,
	}
}

// SourceStats provides cardinality usage information
type SourceStats struct {
	TotalSources   int     `json:"total_sources"`
	UniqueHosts    int     `json:"unique_hosts"`
	BusiestHost    string  `json:"busiest_host,omitempty"`
	BusiestCount   int     `json:"busiest_count"`
	SourceLimit    int     `json:"source_limit"`
	PerHostLimit   int     `json:"per_host_limit"`
	UtilizationPct float64 `json:"utilization_percent"`
}

func sourceKey(host, category string) string {
	return host + "\x00" + category
}
