package server

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nicktill/tinylog/pkg/server/monitor"
	"github.com/nicktill/tinylog/pkg/storage/memory"
)

func TestCheckStorage_Transitions(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "000001.vlog"), make([]byte, 8192), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	over := monitor.NewStorageMonitor(dir, 1)
	if !checkStorage(over, false) {
		t.Error("checkStorage() = false, want true when usage exceeds limit")
	}

	under := monitor.NewStorageMonitor(dir, 1<<30)
	if checkStorage(under, true) {
		t.Error("checkStorage() = true, want false when usage is under limit")
	}
}

func TestCheckStorage_ErrorKeepsState(t *testing.T) {
	sm := monitor.NewStorageMonitor("/nonexistent/path/12345", 1)
	if !checkStorage(sm, true) {
		t.Error("checkStorage() should keep previous state on error")
	}
}

func TestRunBadgerGC_SkipsOtherBackends(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan struct{})
	go func() {
		RunBadgerGC(memory.New(), make(chan bool), &wg)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunBadgerGC should return immediately for non-badger storage")
	}
}

func TestRunStorageCheck_Stops(t *testing.T) {
	var wg sync.WaitGroup
	stop := make(chan bool)
	wg.Add(1)
	go RunStorageCheck(monitor.NewStorageMonitor(t.TempDir(), 1<<30), 10*time.Millisecond, stop, &wg)

	time.Sleep(30 * time.Millisecond)
	close(stop)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunStorageCheck did not stop")
	}
}
