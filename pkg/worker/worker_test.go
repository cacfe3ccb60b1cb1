package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinylog/pkg/queue"
	"github.com/nicktill/tinylog/pkg/record"
	"github.com/nicktill/tinylog/pkg/storage/memory"
)

// fakePort records calls and lets tests inject behaviour per call
type fakePort struct {
	mu         sync.Mutex
	persisted  []*record.Record
	isolations []sql.IsolationLevel
	cutoffs    []time.Time

	persistFn func(ctx context.Context, rec *record.Record) error
	purgeFn   func(ctx context.Context, before time.Time) (int64, error)

	nextID      atomic.Int64
	inflight    atomic.Int32
	maxInflight atomic.Int32
	purgeCalls  atomic.Int32
}

func (p *fakePort) Persist(ctx context.Context, rec *record.Record, iso sql.IsolationLevel) error {
	n := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		cur := p.maxInflight.Load()
		if n <= cur || p.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}

	if p.persistFn != nil {
		if err := p.persistFn(ctx, rec); err != nil {
			return err
		}
	}
	if err := rec.AssignID(p.nextID.Add(1)); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.persisted = append(p.persisted, rec)
	p.isolations = append(p.isolations, iso)
	return nil
}

func (p *fakePort) Purge(ctx context.Context, before time.Time) (int64, error) {
	p.purgeCalls.Add(1)
	p.mu.Lock()
	p.cutoffs = append(p.cutoffs, before)
	p.mu.Unlock()

	if p.purgeFn != nil {
		return p.purgeFn(ctx, before)
	}
	return 0, nil
}

func (p *fakePort) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.persisted)
}

// captureListener keeps every result it is handed
type captureListener struct {
	mu      sync.Mutex
	flushes []FlushResult
	purges  []PurgeResult
}

func (l *captureListener) FlushCompleted(r FlushResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushes = append(l.flushes, r)
}

func (l *captureListener) PurgeCompleted(r PurgeResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purges = append(l.purges, r)
}

func (l *captureListener) flushResults() []FlushResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]FlushResult(nil), l.flushes...)
}

func fill(q *queue.Queue, n int) {
	for i := 0; i < n; i++ {
		q.Push(record.New(record.LevelInfo, "test", fmt.Sprintf("msg-%d", i), ""))
	}
}

// manualConfig never fires on its own within a test run
func manualConfig() Config {
	cfg := DefaultConfig()
	cfg.FlushInterval = time.Hour
	cfg.PurgeInterval = time.Hour
	cfg.StartTime = time.Now().Add(time.Hour)
	return cfg
}

func newTestWorker(t *testing.T, q *queue.Queue, port *fakePort, cfg Config, opts ...Option) *Worker {
	t.Helper()
	w, err := New(q, port, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestNew_ConfigErrors(t *testing.T) {
	q := queue.New()
	port := &fakePort{}

	_, err := New(nil, port, DefaultConfig())
	require.ErrorIs(t, err, ErrNilQueue)

	_, err = New(q, nil, DefaultConfig())
	require.ErrorIs(t, err, ErrNilPort)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative flush interval", func(c *Config) { c.FlushInterval = -time.Second }},
		{"negative purge interval", func(c *Config) { c.PurgeInterval = -time.Second }},
		{"negative persist timeout", func(c *Config) { c.PersistTimeout = -time.Second }},
		{"negative concurrency", func(c *Config) { c.Concurrency = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(q, port, cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNew_FillsZeroValues(t *testing.T) {
	w := newTestWorker(t, queue.New(), &fakePort{}, Config{})

	cfg := w.Config()
	require.Equal(t, DefaultFlushInterval, cfg.FlushInterval)
	require.Equal(t, DefaultPurgeInterval, cfg.PurgeInterval)
	require.Equal(t, DefaultPersistTimeout, cfg.PersistTimeout)
	require.Equal(t, DefaultConcurrency, cfg.Concurrency)
	require.NotNil(t, cfg.Clock)
	require.Equal(t, 0, cfg.MaxPerCycle)
	require.Equal(t, sql.LevelDefault, cfg.Isolation)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 15*time.Second, cfg.FlushInterval)
	require.Equal(t, 60, cfg.MaxPerCycle)
	require.Equal(t, 168, cfg.RetentionHours)
	require.Equal(t, sql.LevelReadCommitted, cfg.Isolation)
	require.True(t, cfg.StartTime.IsZero())
}

func TestDueTime(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		start time.Time
		want  time.Duration
	}{
		{"zero start", time.Time{}, 0},
		{"past start", now.Add(-time.Minute), 0},
		{"start equals now", now, 0},
		{"five minutes ahead", now.Add(5 * time.Minute), 5 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DueTime(tt.start, now))
		})
	}
}

func TestCutoff(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	now := time.Date(2024, 3, 2, 14, 0, 0, 0, loc)

	got := Cutoff(now, 24)
	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestFlush_DrainsAtMostMaxPerCycle(t *testing.T) {
	q := queue.New()
	port := &fakePort{}
	cfg := manualConfig()
	cfg.MaxPerCycle = 60
	w := newTestWorker(t, q, port, cfg)

	fill(q, 100)

	result, ok := w.Flush(context.Background())
	require.True(t, ok)
	require.Equal(t, 60, result.Drained)
	require.Equal(t, 60, result.Persisted)
	require.Equal(t, 40, result.Remaining)
	require.Equal(t, 40, q.Len())
	require.Equal(t, 60, port.count())

	result, ok = w.Flush(context.Background())
	require.True(t, ok)
	require.Equal(t, 40, result.Persisted)
	require.Equal(t, 0, result.Remaining)
	require.Equal(t, 100, port.count())

	for _, rec := range port.persisted {
		require.Positive(t, rec.ID())
	}

	stats := w.Stats()
	require.Equal(t, uint64(2), stats.Ticks)
	require.Equal(t, uint64(100), stats.Persisted)
	require.Equal(t, "idle", stats.State)
}

func TestFlush_EmptyQueue(t *testing.T) {
	w := newTestWorker(t, queue.New(), &fakePort{}, manualConfig())

	result, ok := w.Flush(context.Background())
	require.True(t, ok)
	require.Zero(t, result.Drained)
	require.Empty(t, result.Outcomes)
}

func TestFlush_UnboundedWhenMaxPerCycleZero(t *testing.T) {
	q := queue.New()
	port := &fakePort{}
	cfg := manualConfig()
	cfg.MaxPerCycle = 0
	w := newTestWorker(t, q, port, cfg)

	fill(q, 250)

	result, ok := w.Flush(context.Background())
	require.True(t, ok)
	require.Equal(t, 250, result.Persisted)
	require.Zero(t, q.Len())
}

func TestFlush_FailedRecordsAreIsolatedAndDropped(t *testing.T) {
	q := queue.New()
	port := &fakePort{
		persistFn: func(_ context.Context, rec *record.Record) error {
			if strings.HasSuffix(rec.Message(), "3") {
				return errors.New("constraint violation")
			}
			return nil
		},
	}
	w := newTestWorker(t, q, port, manualConfig())

	fill(q, 10)

	result, ok := w.Flush(context.Background())
	require.True(t, ok)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, 9, result.Persisted)
	require.Zero(t, q.Len(), "failed records must not be requeued")

	for _, o := range result.Outcomes {
		if o.Status == StatusFailed {
			require.Equal(t, "msg-3", o.Record.Message())
			require.EqualError(t, o.Err, "constraint violation")
			require.Zero(t, o.Record.ID())
		}
	}
	require.Equal(t, uint64(1), w.Stats().Failed)
}

func TestFlush_PanicIsReportedAsFailure(t *testing.T) {
	q := queue.New()
	port := &fakePort{
		persistFn: func(context.Context, *record.Record) error {
			panic("driver bug")
		},
	}
	w := newTestWorker(t, q, port, manualConfig())

	fill(q, 2)

	result, ok := w.Flush(context.Background())
	require.True(t, ok)
	require.Equal(t, 2, result.Failed)
	require.ErrorContains(t, result.Outcomes[0].Err, "driver bug")
}

func TestFlush_PersistTimeoutIsFailure(t *testing.T) {
	q := queue.New()
	port := &fakePort{
		persistFn: func(ctx context.Context, _ *record.Record) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	cfg := manualConfig()
	cfg.PersistTimeout = 20 * time.Millisecond
	w := newTestWorker(t, q, port, cfg)

	fill(q, 1)

	result, ok := w.Flush(context.Background())
	require.True(t, ok)
	require.Equal(t, 1, result.Failed)
	require.ErrorIs(t, result.Outcomes[0].Err, context.DeadlineExceeded)
}

func TestFlush_ConcurrencyBound(t *testing.T) {
	q := queue.New()
	port := &fakePort{
		persistFn: func(context.Context, *record.Record) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	}
	cfg := manualConfig()
	cfg.Concurrency = 3
	cfg.MaxPerCycle = 0
	w := newTestWorker(t, q, port, cfg)

	fill(q, 20)

	result, ok := w.Flush(context.Background())
	require.True(t, ok)
	require.Equal(t, 20, result.Persisted)
	require.LessOrEqual(t, port.maxInflight.Load(), int32(3))
	require.Positive(t, port.maxInflight.Load())
}

func TestFlush_PassesIsolationLevel(t *testing.T) {
	q := queue.New()
	port := &fakePort{}
	cfg := manualConfig()
	cfg.Isolation = sql.LevelSerializable
	w := newTestWorker(t, q, port, cfg)

	fill(q, 3)
	_, ok := w.Flush(context.Background())
	require.True(t, ok)

	for _, iso := range port.isolations {
		require.Equal(t, sql.LevelSerializable, iso)
	}
}

func TestFlush_SkipsWhileDraining(t *testing.T) {
	q := queue.New()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	port := &fakePort{
		persistFn: func(context.Context, *record.Record) error {
			once.Do(func() { close(started) })
			<-release
			return nil
		},
	}
	w := newTestWorker(t, q, port, manualConfig())

	fill(q, 5)

	done := make(chan FlushResult, 1)
	go func() {
		result, _ := w.Flush(context.Background())
		done <- result
	}()

	<-started
	require.Equal(t, "draining", w.Stats().State)

	fill(q, 5)
	_, ok := w.Flush(context.Background())
	require.False(t, ok, "overlapping cycle must be skipped")
	require.Equal(t, 5, q.Len(), "skipped tick must not drain")

	close(release)
	result := <-done
	require.Equal(t, 5, result.Persisted)

	stats := w.Stats()
	require.Equal(t, uint64(1), stats.SkippedTicks)
	require.Equal(t, "idle", stats.State)
}

func TestStart_TicksDuringSlowCycleAreSkipped(t *testing.T) {
	q := queue.New()
	release := make(chan struct{})
	port := &fakePort{
		persistFn: func(ctx context.Context, _ *record.Record) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	listener := &captureListener{}

	cfg := DefaultConfig()
	cfg.FlushInterval = 5 * time.Millisecond
	cfg.RetentionHours = 0
	w := newTestWorker(t, q, port, cfg, WithListener(listener))

	fill(q, 5)
	require.NoError(t, w.Start(context.Background()))

	// The first cycle holds all five records while the ticker keeps firing
	require.Eventually(t, func() bool {
		return w.Stats().SkippedTicks >= 3
	}, 2*time.Second, time.Millisecond)

	fill(q, 5)
	stats := w.Stats()
	require.Equal(t, uint64(1), stats.Ticks, "only one cycle may be in flight")
	require.Equal(t, "draining", stats.State)
	require.Equal(t, uint64(5), stats.Drained)
	require.Equal(t, 5, q.Len(), "skipped ticks must not drain")
	require.Empty(t, listener.flushResults())
	require.LessOrEqual(t, port.maxInflight.Load(), int32(5))

	close(release)
	require.Eventually(t, func() bool {
		return port.count() == 10
	}, 2*time.Second, time.Millisecond)

	results := listener.flushResults()
	require.Equal(t, 5, results[0].Drained)
	require.Equal(t, 5, results[0].Persisted)
	require.GreaterOrEqual(t, w.Stats().Ticks, uint64(2))
}

func TestPurge_RemovesOnlyExpiredRecords(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	store := memory.New()
	for _, age := range []time.Duration{23 * time.Hour, 24 * time.Hour, 25 * time.Hour} {
		rec := record.FromEntry(record.Entry{
			Host:      "h",
			Timestamp: now.Add(-age),
			Level:     record.LevelInfo,
			Category:  "test",
			Message:   age.String(),
		})
		require.NoError(t, store.Persist(context.Background(), rec, sql.LevelDefault))
	}

	cfg := manualConfig()
	cfg.RetentionHours = 24
	cfg.Clock = func() time.Time { return now }
	w, err := New(queue.New(), store, cfg)
	require.NoError(t, err)
	defer w.Close()

	result, ok := w.Purge(context.Background())
	require.True(t, ok)
	require.Equal(t, StatusOK, result.Status)
	require.Equal(t, int64(1), result.Removed)
	require.True(t, result.Cutoff.Equal(now.Add(-24*time.Hour)))
	require.Equal(t, 2, store.Len())
	require.Equal(t, int64(1), w.Stats().Purged)
}

func TestPurge_DisabledWithoutRetention(t *testing.T) {
	port := &fakePort{}
	cfg := manualConfig()
	cfg.RetentionHours = 0
	w := newTestWorker(t, queue.New(), port, cfg)

	_, ok := w.Purge(context.Background())
	require.False(t, ok)
	require.Zero(t, port.purgeCalls.Load())
}

func TestPurge_FailureIsReported(t *testing.T) {
	port := &fakePort{
		purgeFn: func(context.Context, time.Time) (int64, error) {
			return 0, errors.New("lock timeout")
		},
	}
	listener := &captureListener{}
	w := newTestWorker(t, queue.New(), port, manualConfig(), WithListener(listener))

	result, ok := w.Purge(context.Background())
	require.True(t, ok)
	require.Equal(t, StatusFailed, result.Status)
	require.EqualError(t, result.Err, "lock timeout")
	require.Equal(t, uint64(1), w.Stats().PurgeFailures)
	require.Len(t, listener.purges, 1)
}

func TestPurge_FailureDoesNotStopLaterCycles(t *testing.T) {
	var calls atomic.Int32
	port := &fakePort{
		purgeFn: func(context.Context, time.Time) (int64, error) {
			if calls.Add(1) == 1 {
				return 0, errors.New("deadlock victim")
			}
			return 3, nil
		},
	}
	cfg := DefaultConfig()
	cfg.FlushInterval = time.Hour
	cfg.PurgeInterval = 20 * time.Millisecond
	w := newTestWorker(t, queue.New(), port, cfg)

	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		return w.Stats().Purges >= 3
	}, 2*time.Second, 10*time.Millisecond)

	stats := w.Stats()
	require.Equal(t, uint64(1), stats.PurgeFailures)
	require.GreaterOrEqual(t, stats.Purged, int64(6))
}

func TestStart_Twice(t *testing.T) {
	w := newTestWorker(t, queue.New(), &fakePort{}, manualConfig())

	require.NoError(t, w.Start(context.Background()))
	require.ErrorIs(t, w.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, w.Stop(context.Background()))
	require.ErrorIs(t, w.Start(context.Background()), ErrClosed)
}

func TestStart_FlushesImmediatelyWhenStartTimePast(t *testing.T) {
	q := queue.New()
	port := &fakePort{}
	cfg := DefaultConfig()
	cfg.StartTime = time.Now().Add(-time.Hour)
	cfg.FlushInterval = time.Hour
	w := newTestWorker(t, q, port, cfg)

	fill(q, 3)
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool { return port.count() == 3 }, time.Second, 5*time.Millisecond)
}

func TestStart_DelaysFirstCycleUntilStartTime(t *testing.T) {
	q := queue.New()
	port := &fakePort{}
	cfg := DefaultConfig()
	cfg.StartTime = time.Now().Add(300 * time.Millisecond)
	cfg.FlushInterval = time.Hour
	w := newTestWorker(t, q, port, cfg)

	fill(q, 1)
	require.NoError(t, w.Start(context.Background()))

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, port.count(), "nothing may flush before StartTime")

	require.Eventually(t, func() bool { return port.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStart_TicksRepeat(t *testing.T) {
	q := queue.New()
	port := &fakePort{}
	cfg := DefaultConfig()
	cfg.FlushInterval = 20 * time.Millisecond
	cfg.MaxPerCycle = 2
	w := newTestWorker(t, q, port, cfg)

	fill(q, 7)
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool { return port.count() == 7 }, 2*time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, w.Stats().Ticks, uint64(4))
}

func TestStop_CancelsInFlightPersist(t *testing.T) {
	q := queue.New()
	started := make(chan struct{})
	port := &fakePort{
		persistFn: func(ctx context.Context, _ *record.Record) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}
	listener := &captureListener{}
	cfg := DefaultConfig()
	cfg.FlushInterval = time.Hour
	cfg.Concurrency = 1
	w := newTestWorker(t, q, port, cfg, WithListener(listener))

	fill(q, 1)
	require.NoError(t, w.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))

	results := listener.flushResults()
	require.Len(t, results, 1)
	require.Equal(t, 1, results[0].Cancelled)
	require.Zero(t, results[0].Failed)
	require.Equal(t, StatusCancelled, results[0].Outcomes[0].Status)

	stats := w.Stats()
	require.Equal(t, "stopped", stats.State)
	require.Equal(t, uint64(1), stats.Cancelled)
}

func TestStop_ParentContextCancelsWork(t *testing.T) {
	q := queue.New()
	started := make(chan struct{})
	finished := make(chan error, 1)
	port := &fakePort{
		persistFn: func(ctx context.Context, _ *record.Record) error {
			close(started)
			<-ctx.Done()
			finished <- ctx.Err()
			return ctx.Err()
		},
	}
	cfg := DefaultConfig()
	cfg.FlushInterval = time.Hour
	w := newTestWorker(t, q, port, cfg)

	fill(q, 1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	<-started
	cancel()

	select {
	case err := <-finished:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("persist was not cancelled with the parent context")
	}
}

func TestStop_Deadline(t *testing.T) {
	q := queue.New()
	started := make(chan struct{})
	release := make(chan struct{})
	port := &fakePort{
		persistFn: func(context.Context, *record.Record) error {
			close(started)
			<-release
			return nil
		},
	}
	cfg := DefaultConfig()
	cfg.FlushInterval = time.Hour
	w := newTestWorker(t, q, port, cfg)
	defer close(release)

	fill(q, 1)
	require.NoError(t, w.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := w.Stop(ctx)
	require.ErrorIs(t, err, ErrStopTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, w.Stop(context.Background()), "second Stop is a no-op")
}

func TestStop_KeepsQueuedRecords(t *testing.T) {
	q := queue.New()
	w := newTestWorker(t, q, &fakePort{}, manualConfig())

	require.NoError(t, w.Start(context.Background()))
	fill(q, 4)
	require.NoError(t, w.Stop(context.Background()))
	require.Equal(t, 4, q.Len())

	_, ok := w.Flush(context.Background())
	require.False(t, ok, "no cycles after Stop")
}

func TestClose_DropsBufferedRecords(t *testing.T) {
	q := queue.New()
	w, err := New(q, &fakePort{}, manualConfig())
	require.NoError(t, err)

	fill(q, 5)
	require.NoError(t, w.Close())
	require.Zero(t, q.Len())
	require.Equal(t, uint64(5), w.Stats().Dropped)

	require.NoError(t, w.Close())
	require.Equal(t, uint64(5), w.Stats().Dropped)
}

func TestWorkers_AreIndependent(t *testing.T) {
	q1, q2 := queue.New(), queue.New()
	p1, p2 := &fakePort{}, &fakePort{}
	w1 := newTestWorker(t, q1, p1, manualConfig())
	w2 := newTestWorker(t, q2, p2, manualConfig())

	fill(q1, 2)
	fill(q2, 3)

	require.NoError(t, w1.Close())

	_, ok := w2.Flush(context.Background())
	require.True(t, ok)
	require.Equal(t, 3, p2.count())
	require.Zero(t, p1.count())
}
