package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/tinylog/pkg/config"
	"github.com/nicktill/tinylog/pkg/export"
	"github.com/nicktill/tinylog/pkg/ingest"
	"github.com/nicktill/tinylog/pkg/queue"
	"github.com/nicktill/tinylog/pkg/record"
	"github.com/nicktill/tinylog/pkg/sdk"
	"github.com/nicktill/tinylog/pkg/server/monitor"
	"github.com/nicktill/tinylog/pkg/storage"
	"github.com/nicktill/tinylog/pkg/storage/badger"
	"github.com/nicktill/tinylog/pkg/storage/memory"
	"github.com/nicktill/tinylog/pkg/storage/sqlstore"
	"github.com/nicktill/tinylog/pkg/worker"

	_ "modernc.org/sqlite"
)

// Storage backends selectable with TINYLOG_STORAGE
const (
	BackendBadger = "badger"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// SQLiteFile is the database file name inside the data directory.
const SQLiteFile = "tinylog.db"

// sqliteTable is the log table the sqlite backend writes to.
const sqliteTable = "log_message"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS log_message (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		host          TEXT NOT NULL,
		utc_timestamp DATETIME NOT NULL,
		level         INTEGER NOT NULL,
		logger        TEXT NOT NULL,
		message       TEXT NOT NULL,
		exception     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS log_message_utc_timestamp ON log_message (utc_timestamp)`,
}

// Config holds server configuration.
type Config struct {
	MaxStorageGB int64
	MaxMemoryMB  int64
	DataDir      string
	Port         string
	Backend      string
	MinLevel     record.Level
	Worker       worker.Config
}

// MaxStorageBytes returns the storage limit in bytes.
func (c Config) MaxStorageBytes() int64 {
	return c.MaxStorageGB * 1024 * 1024 * 1024
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() Config {
	wc := worker.DefaultConfig()
	wc.FlushInterval = getEnvDuration("TINYLOG_FLUSH_INTERVAL", wc.FlushInterval)
	wc.MaxPerCycle = int(getEnvInt64("TINYLOG_MAX_PER_CYCLE", int64(wc.MaxPerCycle)))
	wc.PurgeInterval = getEnvDuration("TINYLOG_PURGE_INTERVAL", wc.PurgeInterval)
	wc.RetentionHours = int(getEnvInt64("TINYLOG_RETENTION_HOURS", int64(wc.RetentionHours)))
	wc.StartTime = getEnvTime("TINYLOG_START_TIME")

	return Config{
		MaxStorageGB: getEnvInt64("TINYLOG_MAX_STORAGE_GB", config.DefaultMaxStorageGB),
		MaxMemoryMB:  getEnvInt64("TINYLOG_MAX_MEMORY_MB", config.DefaultMaxMemoryMB),
		DataDir:      getEnvString("TINYLOG_DATA_DIR", config.DefaultDataDir),
		Port:         getPort(),
		Backend:      strings.ToLower(getEnvString("TINYLOG_STORAGE", BackendBadger)),
		MinLevel:     getEnvLevel("TINYLOG_MIN_LEVEL", record.LevelTrace),
		Worker:       wc,
	}
}

// InitializeStorage opens the configured storage backend.
func InitializeStorage(cfg Config) (storage.Storage, error) {
	switch cfg.Backend {
	case BackendMemory:
		log.Println("Using in-memory storage (records are lost on restart)")
		return memory.New(), nil
	case BackendBadger, "", BackendSQLite:
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if cfg.Backend == BackendSQLite {
		return openSQLite(cfg.DataDir)
	}

	log.Printf("Initializing BadgerDB storage in %s...", cfg.DataDir)
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Println("BadgerDB storage initialized successfully")
	return store, nil
}

// openSQLite opens the relational backend on a single SQLite file. One
// connection serialises writers; WAL keeps readers from blocking on it.
func openSQLite(dataDir string) (storage.Storage, error) {
	path := filepath.Join(dataDir, SQLiteFile)
	log.Printf("Initializing SQLite storage in %s...", path)

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, ddl := range sqliteSchema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
		}
	}

	store, err := sqlstore.New(db, sqlstore.TableDialect{Table: sqliteTable}, sqlstore.OwnDB())
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Println("SQLite storage initialized successfully")
	return store, nil
}

// Components are the long-lived pieces of a running log sink.
type Components struct {
	Queue          *queue.Queue
	Client         *sdk.Client
	Worker         *worker.Worker
	Hub            *ingest.LogHub
	Ingest         *ingest.Handler
	Export         *export.Handler
	FlushMonitor   *monitor.CycleMonitor
	PurgeMonitor   *monitor.CycleMonitor
	StorageMonitor *monitor.StorageMonitor
}

// InitializeComponents wires the queue, worker, monitors and handlers around store.
// The worker is created but not started.
func InitializeComponents(store storage.Storage, cfg Config) (*Components, error) {
	q := queue.New()

	client, err := sdk.New(q, sdk.ClientConfig{Service: "tinylog", MinLevel: cfg.MinLevel})
	if err != nil {
		return nil, err
	}

	flushInterval := cfg.Worker.FlushInterval
	if flushInterval <= 0 {
		flushInterval = worker.DefaultFlushInterval
	}
	purgeInterval := cfg.Worker.PurgeInterval
	if purgeInterval <= 0 {
		purgeInterval = worker.DefaultPurgeInterval
	}

	flushMonitor := monitor.NewCycleMonitor("flush",
		flushInterval*config.HealthStaleAfterIntervals, config.HealthMaxConsecutiveFailures)
	purgeStale := purgeInterval * config.HealthStaleAfterIntervals
	if cfg.Worker.RetentionHours <= 0 {
		purgeStale = 0
	}
	purgeMonitor := monitor.NewCycleMonitor("purge", purgeStale, config.HealthMaxConsecutiveFailures)

	due := time.Now().Add(worker.DueTime(cfg.Worker.StartTime, time.Now()))
	flushMonitor.Arm(due)
	purgeMonitor.Arm(due)

	hub := ingest.NewLogHub()

	w, err := worker.New(q, store, cfg.Worker, worker.WithListener(&cycleListener{
		flush: flushMonitor,
		purge: purgeMonitor,
		hub:   hub,
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	ingestHandler := ingest.NewHandler(q, store, ingest.HandlerConfig{
		MinLevel: cfg.MinLevel,
		Pipeline: w,
	})
	log.Println("Ingest handler created with validation & cardinality protection")

	return &Components{
		Queue:          q,
		Client:         client,
		Worker:         w,
		Hub:            hub,
		Ingest:         ingestHandler,
		Export:         export.NewHandler(store),
		FlushMonitor:   flushMonitor,
		PurgeMonitor:   purgeMonitor,
		StorageMonitor: monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageBytes()),
	}, nil
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

// getEnvDuration gets a duration (e.g. "15s") from environment variable or returns default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil && parsed > 0 {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %v", key, val, defaultValue)
	}
	return defaultValue
}

// getEnvTime gets an RFC3339 time from environment variable; zero when unset.
func getEnvTime(key string) time.Time {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.Parse(time.RFC3339, val); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, starting immediately", key, val)
	}
	return time.Time{}
}

// getEnvLevel gets a log level name from environment variable or returns default.
func getEnvLevel(key string, defaultValue record.Level) record.Level {
	if val := os.Getenv(key); val != "" {
		if parsed, err := record.ParseLevel(val); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %s", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getPort gets the server port from PORT environment variable or returns default.
func getPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return config.DefaultPort
}
