package runtime

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nicktill/tinylog/pkg/record"
)

type captured struct {
	level    record.Level
	category string
	message  string
}

type mockEmitter struct {
	mu      sync.Mutex
	records []captured
}

func (m *mockEmitter) Emit(level record.Level, category, message string, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, captured{level, category, message})
}

func (m *mockEmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func TestCollect(t *testing.T) {
	s := Collect()
	if s.Goroutines < 1 {
		t.Errorf("Goroutines = %d, want at least 1", s.Goroutines)
	}
	if s.HeapBytes == 0 || s.SysBytes == 0 {
		t.Errorf("memory counters should be non-zero: %+v", s)
	}
}

func TestReport(t *testing.T) {
	em := &mockEmitter{}
	NewCollector(em, time.Minute, Thresholds{}).Report()

	if em.count() != 1 {
		t.Fatalf("emitted %d records, want 1", em.count())
	}
	got := em.records[0]
	if got.level != record.LevelInfo || got.category != Category {
		t.Errorf("record = %+v, want info/%s", got, Category)
	}
	if !strings.Contains(got.message, "goroutines=") || !strings.Contains(got.message, "heap_bytes=") {
		t.Errorf("message = %q, want runtime counters", got.message)
	}
}

func TestReport_Thresholds(t *testing.T) {
	tests := []struct {
		name       string
		thresholds Thresholds
		want       record.Level
	}{
		{"disabled", Thresholds{}, record.LevelInfo},
		{"goroutines exceeded", Thresholds{Goroutines: 1}, record.LevelWarning},
		{"heap exceeded", Thresholds{HeapBytes: 1}, record.LevelWarning},
		{"generous", Thresholds{Goroutines: 1 << 20, HeapBytes: 1 << 40}, record.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em := &mockEmitter{}
			NewCollector(em, 0, tt.thresholds).Report()
			if em.records[0].level != tt.want {
				t.Errorf("level = %v, want %v", em.records[0].level, tt.want)
			}
		})
	}
}

func TestStart_ReportsUntilCancelled(t *testing.T) {
	em := &mockEmitter{}
	c := NewCollector(em, 10*time.Millisecond, Thresholds{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	time.Sleep(55 * time.Millisecond)
	cancel()
	<-done

	if n := em.count(); n < 2 {
		t.Errorf("emitted %d records, want at least 2", n)
	}
}

func TestNewCollector_DefaultInterval(t *testing.T) {
	if c := NewCollector(&mockEmitter{}, 0, Thresholds{}); c.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", c.interval, DefaultInterval)
	}
}
