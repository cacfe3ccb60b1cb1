package worker

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Defaults used by DefaultConfig and for zero-valued fields.
const (
	DefaultFlushInterval  = 15 * time.Second
	DefaultMaxPerCycle    = 60
	DefaultPurgeInterval  = 1 * time.Hour
	DefaultRetentionHours = 168
	DefaultPersistTimeout = 30 * time.Second
	DefaultConcurrency    = 8
)

// ErrInvalidConfig is returned by New for out-of-range settings.
var ErrInvalidConfig = errors.New("invalid worker config")

// Config holds worker scheduling settings. It is copied into the worker at
// construction and never changes afterwards.
type Config struct {
	// StartTime delays the first flush and purge. Zero or past means immediately.
	StartTime time.Time

	// FlushInterval is the period between flush cycles
	FlushInterval time.Duration

	// MaxPerCycle caps records drained per flush cycle (<= 0 = unbounded)
	MaxPerCycle int

	// PurgeInterval is the period between purge cycles
	PurgeInterval time.Duration

	// RetentionHours is how long persisted records are kept (<= 0 disables purge)
	RetentionHours int

	// Isolation is passed to every Persist call
	Isolation sql.IsolationLevel

	// PersistTimeout bounds a single Persist call
	PersistTimeout time.Duration

	// Concurrency caps concurrent Persist calls within one cycle
	Concurrency int

	// Clock returns the current time (tests pin it)
	Clock func() time.Time
}

// DefaultConfig returns the stock settings: flush every 15s, 60 records per
// cycle, purge hourly, keep a week of logs.
func DefaultConfig() Config {
	return Config{
		FlushInterval:  DefaultFlushInterval,
		MaxPerCycle:    DefaultMaxPerCycle,
		PurgeInterval:  DefaultPurgeInterval,
		RetentionHours: DefaultRetentionHours,
		Isolation:      sql.LevelReadCommitted,
		PersistTimeout: DefaultPersistTimeout,
		Concurrency:    DefaultConcurrency,
		Clock:          time.Now,
	}
}

// normalize validates cfg and fills zero durations, concurrency and clock.
// MaxPerCycle and RetentionHours are taken as given since zero is meaningful.
func (cfg Config) normalize() (Config, error) {
	if cfg.FlushInterval < 0 {
		return cfg, fmt.Errorf("%w: negative flush interval %v", ErrInvalidConfig, cfg.FlushInterval)
	}
	if cfg.PurgeInterval < 0 {
		return cfg, fmt.Errorf("%w: negative purge interval %v", ErrInvalidConfig, cfg.PurgeInterval)
	}
	if cfg.PersistTimeout < 0 {
		return cfg, fmt.Errorf("%w: negative persist timeout %v", ErrInvalidConfig, cfg.PersistTimeout)
	}
	if cfg.Concurrency < 0 {
		return cfg, fmt.Errorf("%w: negative concurrency %d", ErrInvalidConfig, cfg.Concurrency)
	}

	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.PurgeInterval == 0 {
		cfg.PurgeInterval = DefaultPurgeInterval
	}
	if cfg.PersistTimeout == 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return cfg, nil
}

// DueTime returns how long to wait before the first cycle.
func DueTime(start, now time.Time) time.Duration {
	if start.IsZero() || !start.After(now) {
		return 0
	}
	return start.Sub(now)
}

// Cutoff returns the purge boundary for a retention window: records stamped
// strictly before it are expired.
func Cutoff(now time.Time, retentionHours int) time.Time {
	return now.UTC().Add(-time.Duration(retentionHours) * time.Hour)
}
