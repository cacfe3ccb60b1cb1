package worker

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/nicktill/tinylog/pkg/storage"
)

// Purger deletes records older than the retention window. A failed purge is
// reported and the next cycle runs as usual.
type Purger struct {
	port     storage.Port
	cfg      Config
	stats    *counters
	listener Listener

	running atomic.Bool
}

func newPurger(port storage.Port, cfg Config, stats *counters, listener Listener) *Purger {
	return &Purger{
		port:     port,
		cfg:      cfg,
		stats:    stats,
		listener: listener,
	}
}

// Enabled reports whether a retention window is configured.
func (p *Purger) Enabled() bool {
	return p.cfg.RetentionHours > 0
}

// Run performs one purge. It returns false when purging is disabled or
// another purge is still running.
func (p *Purger) Run(ctx context.Context) (PurgeResult, bool) {
	if !p.Enabled() {
		return PurgeResult{}, false
	}
	if !p.running.CompareAndSwap(false, true) {
		p.stats.skippedPurges.Add(1)
		return PurgeResult{}, false
	}
	defer p.running.Store(false)

	start := p.cfg.Clock()
	result := PurgeResult{
		Started: start,
		Cutoff:  Cutoff(start, p.cfg.RetentionHours),
	}

	removed, err := p.port.Purge(ctx, result.Cutoff)
	result.Removed = removed
	result.Elapsed = p.cfg.Clock().Sub(start)
	p.stats.purged.Add(removed)
	p.stats.purges.Add(1)

	switch {
	case err == nil:
		result.Status = StatusOK
		if removed > 0 {
			log.Printf("Purged %d records older than %s", removed, result.Cutoff.Format(time.RFC3339))
		}
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		result.Status = StatusCancelled
		result.Err = err
	default:
		result.Status = StatusFailed
		result.Err = err
		p.stats.purgeFailures.Add(1)
		log.Printf("Purge failed (cutoff %s), will retry on next schedule: %v",
			result.Cutoff.Format(time.RFC3339), err)
	}

	p.listener.PurgeCompleted(result)
	return result, true
}
