package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/tinylog/pkg/queue"
	"github.com/nicktill/tinylog/pkg/record"
	"github.com/nicktill/tinylog/pkg/storage"
)

// FlushState is the flusher's position in its Idle -> Draining -> Idle cycle.
type FlushState int32

const (
	StateIdle FlushState = iota
	StateDraining
	StateStopped
)

func (s FlushState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Flusher drains the queue into the persistence port, one cycle per tick.
// Cycles never overlap: a tick that arrives while draining is skipped.
type Flusher struct {
	queue    *queue.Queue
	port     storage.Port
	cfg      Config
	stats    *counters
	listener Listener

	state atomic.Int32
}

func newFlusher(q *queue.Queue, port storage.Port, cfg Config, stats *counters, listener Listener) *Flusher {
	return &Flusher{
		queue:    q,
		port:     port,
		cfg:      cfg,
		stats:    stats,
		listener: listener,
	}
}

// State returns the current state.
func (f *Flusher) State() FlushState {
	return FlushState(f.state.Load())
}

// Tick runs one flush cycle synchronously. It returns false without draining
// when a cycle is already in progress or the flusher is stopped.
func (f *Flusher) Tick(ctx context.Context) (FlushResult, bool) {
	if !f.begin() {
		return FlushResult{}, false
	}
	defer f.end()
	return f.run(ctx), true
}

// begin moves Idle -> Draining. A tick observed while draining is counted as skipped.
func (f *Flusher) begin() bool {
	if f.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		f.stats.ticks.Add(1)
		return true
	}
	if f.State() == StateDraining {
		f.stats.skippedTicks.Add(1)
	}
	return false
}

// end moves Draining -> Idle unless the flusher was stopped meanwhile.
func (f *Flusher) end() {
	f.state.CompareAndSwap(int32(StateDraining), int32(StateIdle))
}

// stop moves to Stopped from any state; later ticks are ignored.
func (f *Flusher) stop() {
	f.state.Store(int32(StateStopped))
}

// run drains at most MaxPerCycle records and persists each one independently.
// Records left in the queue wait for the next tick.
func (f *Flusher) run(ctx context.Context) FlushResult {
	start := f.cfg.Clock()
	batch := f.queue.DrainUpTo(f.cfg.MaxPerCycle)

	result := FlushResult{
		Started: start,
		Drained: len(batch),
	}

	if len(batch) > 0 {
		f.stats.drained.Add(uint64(len(batch)))
		result.Outcomes = f.dispatch(ctx, batch)
	}

	for _, o := range result.Outcomes {
		switch o.Status {
		case StatusOK:
			result.Persisted++
		case StatusFailed:
			result.Failed++
		case StatusCancelled:
			result.Cancelled++
		}
	}
	f.stats.persisted.Add(uint64(result.Persisted))
	f.stats.failed.Add(uint64(result.Failed))
	f.stats.cancelled.Add(uint64(result.Cancelled))

	result.Remaining = f.queue.Len()
	result.Elapsed = f.cfg.Clock().Sub(start)

	if result.Failed > 0 {
		log.Printf("Flush cycle: %d of %d records failed and were dropped (first error: %v)",
			result.Failed, result.Drained, firstError(result.Outcomes))
	}

	f.listener.FlushCompleted(result)
	return result
}

// dispatch persists every record with at most Concurrency calls in flight and
// waits for all of them.
func (f *Flusher) dispatch(ctx context.Context, batch []*record.Record) []Outcome {
	outcomes := make([]Outcome, len(batch))
	sem := make(chan struct{}, f.cfg.Concurrency)

	var wg sync.WaitGroup
	for i, rec := range batch {
		if err := ctx.Err(); err != nil {
			outcomes[i] = Outcome{Record: rec, Status: StatusCancelled, Err: err}
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int, rec *record.Record) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = f.persist(ctx, rec)
		}(i, rec)
	}
	wg.Wait()

	return outcomes
}

// persist makes one attempt. Cancellation of the worker context is reported
// as StatusCancelled; anything else, including the per-record timeout, is a failure.
func (f *Flusher) persist(ctx context.Context, rec *record.Record) (out Outcome) {
	start := time.Now()
	out.Record = rec

	defer func() {
		if p := recover(); p != nil {
			out.Status = StatusFailed
			out.Err = fmt.Errorf("persist panicked: %v", p)
		}
		out.Elapsed = time.Since(start)
	}()

	pctx, cancel := context.WithTimeout(ctx, f.cfg.PersistTimeout)
	defer cancel()

	err := f.port.Persist(pctx, rec, f.cfg.Isolation)
	switch {
	case err == nil:
		out.Status = StatusOK
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		out.Status = StatusCancelled
		out.Err = err
	default:
		out.Status = StatusFailed
		out.Err = err
	}
	return out
}

func firstError(outcomes []Outcome) error {
	for _, o := range outcomes {
		if o.Status == StatusFailed {
			return o.Err
		}
	}
	return nil
}
