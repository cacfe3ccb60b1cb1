package server

import (
	"fmt"

	"github.com/nicktill/tinylog/pkg/record"
	"github.com/nicktill/tinylog/pkg/worker"
)

// cycleMonitor is the slice of monitor.CycleMonitor the listener needs.
type cycleMonitor interface {
	RecordSuccess()
	RecordFailure(err error)
}

// publisher receives persisted records for the live tail.
type publisher interface {
	Publish(records []*record.Record)
}

// cycleListener feeds worker cycle results into the health monitors and the
// live-tail hub.
type cycleListener struct {
	flush cycleMonitor
	purge cycleMonitor
	hub   publisher
}

func (l *cycleListener) FlushCompleted(res worker.FlushResult) {
	switch {
	case res.Failed > 0 && res.Persisted == 0:
		l.flush.RecordFailure(firstFailure(res))
		return
	case res.Cancelled > 0 && res.Persisted == 0 && res.Failed == 0:
		// Shutdown interrupted the cycle; says nothing about health.
		return
	}

	l.flush.RecordSuccess()
	if res.Persisted == 0 || l.hub == nil {
		return
	}

	persisted := make([]*record.Record, 0, res.Persisted)
	for _, out := range res.Outcomes {
		if out.Status == worker.StatusOK {
			persisted = append(persisted, out.Record)
		}
	}
	l.hub.Publish(persisted)
}

func (l *cycleListener) PurgeCompleted(res worker.PurgeResult) {
	switch res.Status {
	case worker.StatusOK:
		l.purge.RecordSuccess()
	case worker.StatusFailed:
		l.purge.RecordFailure(res.Err)
	}
}

func firstFailure(res worker.FlushResult) error {
	for _, out := range res.Outcomes {
		if out.Status == worker.StatusFailed && out.Err != nil {
			return out.Err
		}
	}
	return fmt.Errorf("%d records failed to persist", res.Failed)
}
