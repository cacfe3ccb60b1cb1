package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nicktill/tinylog/pkg/queue"
	"github.com/nicktill/tinylog/pkg/storage"
)

// closeTimeout bounds the implicit Stop performed by Close.
const closeTimeout = 5 * time.Second

var (
	// ErrNilQueue is returned by New without a queue
	ErrNilQueue = errors.New("worker: queue is required")

	// ErrNilPort is returned by New without a persistence port
	ErrNilPort = errors.New("worker: persistence port is required")

	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("worker: already started")

	// ErrClosed is returned by Start after Stop or Close
	ErrClosed = errors.New("worker: closed")

	// ErrStopTimeout is returned when in-flight work outlives the Stop deadline
	ErrStopTimeout = errors.New("worker: stop deadline exceeded")
)

// Option configures optional worker collaborators.
type Option func(*Worker)

// WithListener reports every completed flush and purge cycle to l.
func WithListener(l Listener) Option {
	return func(w *Worker) {
		if l != nil {
			w.listener = l
		}
	}
}

// Worker owns the background flush and purge schedules for one queue.
// Each Worker has its own timers and cancellation; nothing is shared between
// instances.
type Worker struct {
	cfg      Config
	queue    *queue.Queue
	flusher  *Flusher
	purger   *Purger
	listener Listener
	stats    counters

	// ctx is cancelled by Stop; every drain, persist and purge derives from it
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	stopping bool
	closed   bool

	loops    sync.WaitGroup
	inflight sync.WaitGroup
}

// New validates dependencies and configuration and builds an unstarted worker.
func New(q *queue.Queue, port storage.Port, cfg Config, opts ...Option) (*Worker, error) {
	if q == nil {
		return nil, ErrNilQueue
	}
	if port == nil {
		return nil, ErrNilPort
	}
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	w := &Worker{
		cfg:      cfg,
		queue:    q,
		listener: nopListener{},
	}
	for _, opt := range opts {
		opt(w)
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.flusher = newFlusher(q, port, cfg, &w.stats, w.listener)
	w.purger = newPurger(port, cfg, &w.stats, w.listener)

	return w, nil
}

// Config returns the effective configuration.
func (w *Worker) Config() Config {
	return w.cfg
}

// Start arms the flush and purge schedules. The first cycle of each fires at
// StartTime, or immediately if StartTime is zero or already past. Cancelling
// ctx has the same effect on in-flight work as Stop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.stopping {
		return ErrClosed
	}
	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	context.AfterFunc(ctx, w.cancel)

	due := DueTime(w.cfg.StartTime, w.cfg.Clock())

	w.loops.Add(2)
	go w.flushLoop(due)
	go w.purgeLoop(due)

	log.Printf("Log worker started (first cycle in %v, flush every %v, max %d per cycle, purge every %v, retention %dh)",
		due.Round(time.Millisecond), w.cfg.FlushInterval, w.cfg.MaxPerCycle, w.cfg.PurgeInterval, w.cfg.RetentionHours)
	return nil
}

// Stop cancels in-flight drain, persist and purge work and waits for it to
// return, for at most as long as ctx allows. Records still queued stay queued.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return nil
	}
	w.stopping = true
	w.mu.Unlock()

	w.flusher.stop()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.loops.Wait()
		w.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Log worker stopped")
		return nil
	case <-ctx.Done():
		log.Println("Log worker stop deadline exceeded; in-flight work abandoned")
		return fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err())
	}
}

// Close stops the worker if needed and drops every record still buffered.
// Dropping is deliberate: unflushed records are delivered at most once.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := w.Stop(ctx)

	if dropped := w.queue.Clear(); dropped > 0 {
		w.stats.dropped.Add(uint64(dropped))
		log.Printf("Log worker closed; dropped %d unflushed records", dropped)
	}
	return err
}

// Flush runs one flush cycle now, outside the schedule. It returns false if a
// cycle is already running or the worker is stopped.
func (w *Worker) Flush(ctx context.Context) (FlushResult, bool) {
	if !w.flusher.begin() {
		return FlushResult{}, false
	}
	defer w.flusher.end()

	if !w.track() {
		return FlushResult{}, false
	}
	defer w.inflight.Done()

	ctx, cancel := w.linked(ctx)
	defer cancel()
	return w.flusher.run(ctx), true
}

// Purge runs one purge cycle now, outside the schedule.
func (w *Worker) Purge(ctx context.Context) (PurgeResult, bool) {
	if !w.track() {
		return PurgeResult{}, false
	}
	defer w.inflight.Done()

	ctx, cancel := w.linked(ctx)
	defer cancel()
	return w.purger.Run(ctx)
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	s := w.stats.snapshot()
	s.State = w.flusher.State().String()
	s.Queued = w.queue.Len()
	return s
}

func (w *Worker) flushLoop(due time.Duration) {
	defer w.loops.Done()

	if !w.waitDue(due) {
		return
	}
	w.dispatchFlush()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.dispatchFlush()
		}
	}
}

func (w *Worker) purgeLoop(due time.Duration) {
	defer w.loops.Done()

	if !w.purger.Enabled() {
		log.Println("Retention disabled, purge scheduler not started")
		return
	}
	if !w.waitDue(due) {
		return
	}
	w.dispatchPurge()

	ticker := time.NewTicker(w.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.dispatchPurge()
		}
	}
}

// waitDue blocks until the first cycle is due; false means the worker stopped first.
func (w *Worker) waitDue(due time.Duration) bool {
	if due <= 0 {
		return w.ctx.Err() == nil
	}
	timer := time.NewTimer(due)
	defer timer.Stop()

	select {
	case <-w.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// dispatchFlush starts a cycle in the background so the loop keeps observing
// ticks; ticks that land while it runs are skipped by the flusher.
func (w *Worker) dispatchFlush() {
	if !w.flusher.begin() {
		return
	}
	if !w.track() {
		w.flusher.end()
		return
	}
	go func() {
		defer w.inflight.Done()
		defer w.flusher.end()
		w.flusher.run(w.ctx)
	}()
}

func (w *Worker) dispatchPurge() {
	if !w.track() {
		return
	}
	go func() {
		defer w.inflight.Done()
		w.purger.Run(w.ctx)
	}()
}

// track registers in-flight work unless Stop has begun.
func (w *Worker) track() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopping {
		return false
	}
	w.inflight.Add(1)
	return true
}

// linked derives a context cancelled by either ctx or Stop.
func (w *Worker) linked(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(w.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
