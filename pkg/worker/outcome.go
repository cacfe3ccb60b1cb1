package worker

import (
	"sync/atomic"
	"time"

	"github.com/nicktill/tinylog/pkg/record"
)

// Status is the result of one persist or purge attempt.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome reports what happened to one drained record. Failed records are
// dropped, not requeued.
type Outcome struct {
	Record  *record.Record
	Status  Status
	Err     error
	Elapsed time.Duration
}

// FlushResult summarises one flush cycle.
type FlushResult struct {
	Started   time.Time
	Elapsed   time.Duration
	Drained   int
	Persisted int
	Failed    int
	Cancelled int
	// Remaining is the queue depth after the drain; it waits for the next tick.
	Remaining int
	Outcomes  []Outcome
}

// PurgeResult summarises one purge cycle.
type PurgeResult struct {
	Started time.Time
	Elapsed time.Duration
	Cutoff  time.Time
	Removed int64
	Status  Status
	Err     error
}

// Listener observes completed cycles. Calls are made from worker goroutines
// and must not block.
type Listener interface {
	FlushCompleted(FlushResult)
	PurgeCompleted(PurgeResult)
}

type nopListener struct{}

func (nopListener) FlushCompleted(FlushResult) {}
func (nopListener) PurgeCompleted(PurgeResult) {}

// Stats is a snapshot of worker counters.
type Stats struct {
	State         string `json:"state"`
	Queued        int    `json:"queued"`
	Ticks         uint64 `json:"ticks"`
	SkippedTicks  uint64 `json:"skipped_ticks"`
	Drained       uint64 `json:"drained"`
	Persisted     uint64 `json:"persisted"`
	Failed        uint64 `json:"failed"`
	Cancelled     uint64 `json:"cancelled"`
	Purges        uint64 `json:"purges"`
	SkippedPurges uint64 `json:"skipped_purges"`
	PurgeFailures uint64 `json:"purge_failures"`
	Purged        int64  `json:"purged"`
	Dropped       uint64 `json:"dropped"`
}

type counters struct {
	ticks         atomic.Uint64
	skippedTicks  atomic.Uint64
	drained       atomic.Uint64
	persisted     atomic.Uint64
	failed        atomic.Uint64
	cancelled     atomic.Uint64
	purges        atomic.Uint64
	skippedPurges atomic.Uint64
	purgeFailures atomic.Uint64
	purged        atomic.Int64
	dropped       atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Ticks:         c.ticks.Load(),
		SkippedTicks:  c.skippedTicks.Load(),
		Drained:       c.drained.Load(),
		Persisted:     c.persisted.Load(),
		Failed:        c.failed.Load(),
		Cancelled:     c.cancelled.Load(),
		Purges:        c.purges.Load(),
		SkippedPurges: c.skippedPurges.Load(),
		PurgeFailures: c.purgeFailures.Load(),
		Purged:        c.purged.Load(),
		Dropped:       c.dropped.Load(),
	}
}
