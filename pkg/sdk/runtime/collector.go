// Package runtime reports Go runtime health as periodic log records.
package runtime

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/nicktill/tinylog/pkg/record"
)

const (
	// Category is the category of runtime records
	Category = "runtime"

	// DefaultInterval is used when NewCollector gets a zero interval
	DefaultInterval = time.Minute
)

// Emitter is the part of sdk.Client the collector needs
type Emitter interface {
	Emit(level record.Level, category, message string, err error)
}

// Snapshot is one reading of the runtime counters
type Snapshot struct {
	Goroutines int
	HeapBytes  uint64
	StackBytes uint64
	SysBytes   uint64
	GCCycles   uint32
	GCPause    time.Duration
}

// Thresholds escalate a runtime record to warning (zero disables a check)
type Thresholds struct {
	Goroutines int
	HeapBytes  uint64
}

// Collector emits one runtime record per interval.
type Collector struct {
	emitter    Emitter
	interval   time.Duration
	thresholds Thresholds
}

// NewCollector creates a new runtime collector.
func NewCollector(emitter Emitter, interval time.Duration, thresholds Thresholds) *Collector {
	if interval == 0 {
		interval = DefaultInterval
	}
	return &Collector{
		emitter:    emitter,
		interval:   interval,
		thresholds: thresholds,
	}
}

// Start emits a record immediately and then every interval until ctx is done.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Report()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Report()
		}
	}
}

// Report takes a snapshot and emits it.
func (c *Collector) Report() Snapshot {
	s := Collect()
	c.emitter.Emit(c.level(s), Category, s.String(), nil)
	return s
}

func (c *Collector) level(s Snapshot) record.Level {
	if c.thresholds.Goroutines > 0 && s.Goroutines > c.thresholds.Goroutines {
		return record.LevelWarning
	}
	if c.thresholds.HeapBytes > 0 && s.HeapBytes > c.thresholds.HeapBytes {
		return record.LevelWarning
	}
	return record.LevelInfo
}

// Collect reads the current runtime counters.
func Collect() Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Snapshot{
		Goroutines: runtime.NumGoroutine(),
		HeapBytes:  m.HeapAlloc,
		StackBytes: m.StackInuse,
		SysBytes:   m.Sys,
		GCCycles:   m.NumGC,
		GCPause:    time.Duration(m.PauseTotalNs),
	}
}

// String renders the snapshot as key=value pairs.
func (s Snapshot) String() string {
	return fmt.Sprintf("runtime goroutines=%d heap_bytes=%d stack_bytes=%d sys_bytes=%d gc_cycles=%d gc_pause=%v",
		s.Goroutines, s.HeapBytes, s.StackBytes, s.SysBytes, s.GCCycles, s.GCPause)
}
