package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultDataDir      = "./data"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
	ShutdownTimeout     = 10 * time.Second
)

// Background task intervals
const (
	BadgerGCInterval      = 10 * time.Minute
	BadgerGCDiscardRatio  = 0.5
	StorageCheckInterval  = 1 * time.Minute
	RuntimeReportInterval = 5 * time.Minute
	RuntimeMaxGoroutines  = 10000
)

// Ingest timeouts and limits
const (
	IngestMaxBodyBytes       = 8 << 20
	IngestQueryTimeout       = 10 * time.Second
	IngestStatsTimeout       = 5 * time.Second
	IngestDefaultQueryWindow = 1 * time.Hour
	IngestMaxQueryWindow     = 90 * 24 * time.Hour
	IngestDefaultQueryLimit  = 500
	IngestMaxQueryLimit      = 5000
)

// Admin endpoint timeouts
const (
	AdminFlushTimeout = 1 * time.Minute
	AdminPurgeTimeout = 5 * time.Minute
)

// Health thresholds: a cycle monitor turns unhealthy after this many
// consecutive failures or when the last success is older than the window.
const (
	HealthMaxConsecutiveFailures = 3
	HealthStaleAfterIntervals    = 3
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
