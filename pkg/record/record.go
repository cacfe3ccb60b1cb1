// Package record defines the log record that flows through the pipeline.
package record

import (
	"errors"
	"os"
	"sync"
	"time"
)

var (
	// ErrIDAssigned is returned when a store tries to assign an identifier twice
	ErrIDAssigned = errors.New("record identifier already assigned")

	// ErrInvalidID is returned for non-positive identifiers
	ErrInvalidID = errors.New("record identifier must be positive")
)

var (
	hostOnce sync.Once
	hostName string
)

// Hostname returns the host name stamped on new records. It is resolved once
// per process.
func Hostname() string {
	hostOnce.Do(func() {
		h, err := os.Hostname()
		if err != nil || h == "" {
			h = "unknown"
		}
		hostName = h
	})
	return hostName
}

// Record is one log event. Host and timestamp are fixed at construction;
// the identifier is assigned once, by the store, during persistence.
type Record struct {
	id        int64
	host      string
	timestamp time.Time

	level     Level
	category  string
	message   string
	exception string
}

// New creates a record stamped with the local host name and the current UTC time.
func New(level Level, category, message, exception string) *Record {
	return &Record{
		host:      Hostname(),
		timestamp: time.Now().UTC(),
		level:     level,
		category:  category,
		message:   message,
		exception: exception,
	}
}

// ID returns the store-assigned identifier, or 0 before persistence.
func (r *Record) ID() int64 { return r.id }

// Host returns the origin host name.
func (r *Record) Host() string { return r.host }

// Timestamp returns the UTC creation time.
func (r *Record) Timestamp() time.Time { return r.timestamp }

// Level returns the severity.
func (r *Record) Level() Level { return r.level }

// Category returns the originating logger name.
func (r *Record) Category() string { return r.category }

// Message returns the rendered message text.
func (r *Record) Message() string { return r.message }

// Exception returns the rendered exception text, empty if none.
func (r *Record) Exception() string { return r.exception }

// AssignID sets the store identifier. It may only be called once per record.
func (r *Record) AssignID(id int64) error {
	if id <= 0 {
		return ErrInvalidID
	}
	if r.id != 0 {
		return ErrIDAssigned
	}
	r.id = id
	return nil
}

// Entry is the serialisable form of a Record, used by stores and the HTTP API.
type Entry struct {
	ID        int64     `json:"id,omitempty" msgpack:"id"`
	Host      string    `json:"host" msgpack:"host"`
	Timestamp time.Time `json:"timestamp" msgpack:"ts"`
	Level     Level     `json:"-" msgpack:"lvl"`
	LevelName string    `json:"level" msgpack:"-"`
	Category  string    `json:"category" msgpack:"cat"`
	Message   string    `json:"message" msgpack:"msg"`
	Exception string    `json:"exception,omitempty" msgpack:"exc,omitempty"`
}

// Entry returns a snapshot of the record.
func (r *Record) Entry() Entry {
	return Entry{
		ID:        r.id,
		Host:      r.host,
		Timestamp: r.timestamp,
		Level:     r.level,
		LevelName: r.level.String(),
		Category:  r.category,
		Message:   r.message,
		Exception: r.exception,
	}
}

// FromEntry rebuilds a record read back from a store.
func FromEntry(e Entry) *Record {
	return &Record{
		id:        e.ID,
		host:      e.Host,
		timestamp: e.Timestamp.UTC(),
		level:     e.Level,
		category:  e.Category,
		message:   e.Message,
		exception: e.Exception,
	}
}
