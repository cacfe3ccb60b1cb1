package monitor

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// StorageMonitor tracks the data directory's disk usage against a limit,
// caching the result to avoid walking the tree on every request.
type StorageMonitor struct {
	dataDir       string
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// StorageStatus is the usage report served by the storage endpoint.
type StorageStatus struct {
	UsedBytes   int64   `json:"used_bytes"`
	MaxBytes    int64   `json:"max_bytes"`
	UsedPercent float64 `json:"used_percent"`
	OverLimit   bool    `json:"over_limit"`
}

// NewStorageMonitor creates a new storage monitor.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		maxBytes:      maxBytes,
		cacheDuration: 10 * time.Second,
	}
}

// GetUsage returns current storage usage in bytes, refreshed at most every 10 seconds.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := calculateDirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// Check returns usage relative to the limit. A limit <= 0 is never exceeded.
func (sm *StorageMonitor) Check() (StorageStatus, error) {
	used, err := sm.GetUsage()
	if err != nil {
		return StorageStatus{}, err
	}

	status := StorageStatus{UsedBytes: used, MaxBytes: sm.maxBytes}
	if sm.maxBytes > 0 {
		status.UsedPercent = float64(used) / float64(sm.maxBytes) * 100
		status.OverLimit = used > sm.maxBytes
	}
	return status, nil
}

// calculateDirSize sums the allocated size of every file under path.
func calculateDirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(filePath string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += diskUsage(filePath, info)
		return nil
	})
	return size, err
}
