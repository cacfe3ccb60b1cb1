package server

import (
	"log"
	"sync"
	"time"

	"github.com/nicktill/tinylog/pkg/config"
	"github.com/nicktill/tinylog/pkg/server/monitor"
	"github.com/nicktill/tinylog/pkg/storage"
	"github.com/nicktill/tinylog/pkg/storage/badger"
)

// RunBadgerGC runs BadgerDB garbage collection periodically to reclaim disk space.
// Purged records stay in the value log until GC rewrites it, so without this
// the data directory never shrinks.
func RunBadgerGC(store storage.Storage, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	// Type assert to get underlying BadgerDB
	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Println("Storage is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	log.Printf("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()

			// One rewrite per tick; ErrNoRewrite just means nothing was reclaimable
			if err := badgerStore.RunGC(config.BadgerGCDiscardRatio); err != nil {
				log.Printf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			} else {
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			}
		case <-stop:
			log.Println("Stopping BadgerDB GC scheduler")
			return
		}
	}
}

// RunStorageCheck watches data directory usage and warns once each time it
// crosses the configured limit.
func RunStorageCheck(sm *monitor.StorageMonitor, interval time.Duration, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	if sm.GetLimit() <= 0 {
		log.Println("Storage limit disabled, skipping storage checks")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var over bool
	for {
		select {
		case <-ticker.C:
			over = checkStorage(sm, over)
		case <-stop:
			log.Println("Stopping storage checker")
			return
		}
	}
}

// checkStorage logs limit transitions and returns the new over-limit state.
func checkStorage(sm *monitor.StorageMonitor, wasOver bool) bool {
	status, err := sm.Check()
	if err != nil {
		log.Printf("Failed to calculate storage usage: %v", err)
		return wasOver
	}

	switch {
	case status.OverLimit && !wasOver:
		log.Printf("ALERT: storage usage %.2f MB exceeds limit %.2f MB (%.0f%%); lower TINYLOG_RETENTION_HOURS",
			float64(status.UsedBytes)/(1024*1024), float64(status.MaxBytes)/(1024*1024), status.UsedPercent)
	case !status.OverLimit && wasOver:
		log.Printf("Storage usage back under limit (%.0f%%)", status.UsedPercent)
	}
	return status.OverLimit
}
