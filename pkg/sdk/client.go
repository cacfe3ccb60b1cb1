package sdk

import (
	"errors"
	"sync/atomic"

	"github.com/nicktill/tinylog/pkg/queue"
	"github.com/nicktill/tinylog/pkg/record"
)

// DefaultCategory is used when a record is emitted without a category.
const DefaultCategory = "app"

// ErrNilQueue is returned by New without a queue
var ErrNilQueue = errors.New("sdk: queue is required")

// ClientConfig holds configuration for the tinylog client
type ClientConfig struct {
	// Service is the category used when Emit is called with an empty one
	Service string `json:"service"`

	// MinLevel drops records below it; record.LevelNone drops everything
	MinLevel record.Level `json:"min_level"`
}

// Client is the producer-facing front end. Emit never blocks on storage and
// never returns an error: records are handed to the queue and persisted later
// by the worker.
type Client struct {
	config ClientConfig
	queue  *queue.Queue

	emitted  atomic.Uint64
	filtered atomic.Uint64
}

// New creates a client writing into q
func New(q *queue.Queue, cfg ClientConfig) (*Client, error) {
	if q == nil {
		return nil, ErrNilQueue
	}
	if cfg.Service == "" {
		cfg.Service = DefaultCategory
	}
	if !cfg.MinLevel.Valid() {
		cfg.MinLevel = record.LevelInfo
	}
	return &Client{config: cfg, queue: q}, nil
}

// Enabled reports whether a record at level would be kept
func (c *Client) Enabled(level record.Level) bool {
	return level.Enabled(c.config.MinLevel)
}

// Emit builds a record and enqueues it. The exception text is err.Error().
func (c *Client) Emit(level record.Level, category, message string, err error) {
	if !c.Enabled(level) {
		c.filtered.Add(1)
		return
	}
	if category == "" {
		category = c.config.Service
	}

	var exception string
	if err != nil {
		exception = err.Error()
	}

	c.queue.Push(record.New(level, category, message, exception))
	c.emitted.Add(1)
}

// Logger returns a logger bound to category
func (c *Client) Logger(category string) *Logger {
	if category == "" {
		category = c.config.Service
	}
	return &Logger{client: c, category: category}
}

// Stats returns how many records were enqueued and how many the level filter dropped
func (c *Client) Stats() (emitted, filtered uint64) {
	return c.emitted.Load(), c.filtered.Load()
}

// Logger emits records under a fixed category
type Logger struct {
	client   *Client
	category string
}

// Category returns the logger's category
func (l *Logger) Category() string { return l.category }

func (l *Logger) Trace(msg string) { l.client.Emit(record.LevelTrace, l.category, msg, nil) }
func (l *Logger) Debug(msg string) { l.client.Emit(record.LevelDebug, l.category, msg, nil) }
func (l *Logger) Info(msg string)  { l.client.Emit(record.LevelInfo, l.category, msg, nil) }
func (l *Logger) Warn(msg string)  { l.client.Emit(record.LevelWarning, l.category, msg, nil) }

// Error emits at error level with err rendered as the exception
func (l *Logger) Error(msg string, err error) {
	l.client.Emit(record.LevelError, l.category, msg, err)
}

// Critical emits at critical level with err rendered as the exception
func (l *Logger) Critical(msg string, err error) {
	l.client.Emit(record.LevelCritical, l.category, msg, err)
}
