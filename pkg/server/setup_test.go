package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinylog/pkg/config"
	"github.com/nicktill/tinylog/pkg/record"
	"github.com/nicktill/tinylog/pkg/storage"
	"github.com/nicktill/tinylog/pkg/storage/badger"
	"github.com/nicktill/tinylog/pkg/storage/memory"
	"github.com/nicktill/tinylog/pkg/storage/sqlstore"
	"github.com/nicktill/tinylog/pkg/worker"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "TINYLOG_DATA_DIR", "TINYLOG_STORAGE", "TINYLOG_MIN_LEVEL",
		"TINYLOG_FLUSH_INTERVAL", "TINYLOG_MAX_PER_CYCLE", "TINYLOG_RETENTION_HOURS",
		"TINYLOG_START_TIME", "TINYLOG_MAX_STORAGE_GB"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	require.Equal(t, config.DefaultPort, cfg.Port)
	require.Equal(t, config.DefaultDataDir, cfg.DataDir)
	require.Equal(t, BackendBadger, cfg.Backend)
	require.Equal(t, record.LevelTrace, cfg.MinLevel)
	require.Equal(t, worker.DefaultFlushInterval, cfg.Worker.FlushInterval)
	require.Equal(t, worker.DefaultMaxPerCycle, cfg.Worker.MaxPerCycle)
	require.Equal(t, worker.DefaultRetentionHours, cfg.Worker.RetentionHours)
	require.True(t, cfg.Worker.StartTime.IsZero())
	require.Equal(t, int64(config.DefaultMaxStorageGB)*1024*1024*1024, cfg.MaxStorageBytes())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TINYLOG_DATA_DIR", "/var/lib/tinylog")
	t.Setenv("TINYLOG_STORAGE", "Memory")
	t.Setenv("TINYLOG_MIN_LEVEL", "warn")
	t.Setenv("TINYLOG_FLUSH_INTERVAL", "2s")
	t.Setenv("TINYLOG_MAX_PER_CYCLE", "250")
	t.Setenv("TINYLOG_PURGE_INTERVAL", "30m")
	t.Setenv("TINYLOG_RETENTION_HOURS", "24")
	t.Setenv("TINYLOG_START_TIME", "2026-01-02T03:04:05Z")
	t.Setenv("TINYLOG_MAX_STORAGE_GB", "4")

	cfg := LoadConfig()

	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, "/var/lib/tinylog", cfg.DataDir)
	require.Equal(t, BackendMemory, cfg.Backend)
	require.Equal(t, record.LevelWarning, cfg.MinLevel)
	require.Equal(t, 2*time.Second, cfg.Worker.FlushInterval)
	require.Equal(t, 250, cfg.Worker.MaxPerCycle)
	require.Equal(t, 30*time.Minute, cfg.Worker.PurgeInterval)
	require.Equal(t, 24, cfg.Worker.RetentionHours)
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), cfg.Worker.StartTime.UTC())
	require.Equal(t, int64(4), cfg.MaxStorageGB)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("TINYLOG_FLUSH_INTERVAL", "soon")
	t.Setenv("TINYLOG_MAX_PER_CYCLE", "lots")
	t.Setenv("TINYLOG_START_TIME", "tomorrow")
	t.Setenv("TINYLOG_MIN_LEVEL", "loud")

	cfg := LoadConfig()

	require.Equal(t, worker.DefaultFlushInterval, cfg.Worker.FlushInterval)
	require.Equal(t, worker.DefaultMaxPerCycle, cfg.Worker.MaxPerCycle)
	require.True(t, cfg.Worker.StartTime.IsZero())
	require.Equal(t, record.LevelTrace, cfg.MinLevel)
}

func TestInitializeStorage(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		store, err := InitializeStorage(Config{Backend: BackendMemory})
		require.NoError(t, err)
		defer store.Close()
		require.IsType(t, &memory.Storage{}, store)
	})

	t.Run("badger", func(t *testing.T) {
		store, err := InitializeStorage(Config{Backend: BackendBadger, DataDir: t.TempDir()})
		require.NoError(t, err)
		defer store.Close()
		require.IsType(t, &badger.Storage{}, store)
	})

	t.Run("sqlite", func(t *testing.T) {
		dir := t.TempDir()
		store, err := InitializeStorage(Config{Backend: BackendSQLite, DataDir: dir})
		require.NoError(t, err)
		defer store.Close()
		require.IsType(t, &sqlstore.Store{}, store)

		_, err = os.Stat(filepath.Join(dir, SQLiteFile))
		require.NoError(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := InitializeStorage(Config{Backend: "cassandra"})
		require.Error(t, err)
	})
}

func TestSQLiteStorage_RoundTrip(t *testing.T) {
	store, err := InitializeStorage(Config{Backend: BackendSQLite, DataDir: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	cutoff := now.Add(-24 * time.Hour)

	var recs []*record.Record
	for i, age := range []time.Duration{25 * time.Hour, 24 * time.Hour, time.Hour} {
		rec := record.FromEntry(record.Entry{
			Host:      "web-1",
			Timestamp: now.Add(-age),
			Level:     record.Level(i + int(record.LevelInfo)),
			Category:  "billing",
			Message:   "invoice sent",
		})
		require.NoError(t, store.Persist(ctx, rec, storage.DefaultIsolation))
		require.Positive(t, rec.ID())
		recs = append(recs, rec)
	}

	got, err := store.Query(ctx, storage.QueryRequest{Start: now.Add(-48 * time.Hour), End: now, MinLevel: record.LevelWarning})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, recs[1].ID(), got[0].ID())
	require.True(t, recs[1].Timestamp().Equal(got[0].Timestamp()))
	require.Equal(t, "billing", got[0].Category())

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), stats.TotalRecords)
	require.Equal(t, uint64(1), stats.TotalSources)
	require.True(t, stats.OldestRecord.Equal(now.Add(-25*time.Hour)))

	// The record exactly at the cutoff survives
	removed, err := store.Purge(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), stats.TotalRecords)
	require.True(t, stats.OldestRecord.Equal(cutoff))
}

func TestInitializeComponents_RetentionDisabledNeverStale(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.RetentionHours = 0

	c, err := InitializeComponents(memory.New(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Worker.Close() })

	require.True(t, c.PurgeMonitor.IsHealthy())
	require.Equal(t, "flush", c.FlushMonitor.Name())
	require.Equal(t, "purge", c.PurgeMonitor.Name())
}
