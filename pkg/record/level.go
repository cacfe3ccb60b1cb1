package record

import (
	"fmt"
	"strings"
)

// Level is the severity of a log record. Levels are ordered: a record is
// emitted when its level is at or above the configured minimum.
type Level int8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
	// LevelNone disables emission entirely.
	LevelNone
)

var levelNames = [...]string{
	LevelTrace:    "trace",
	LevelDebug:    "debug",
	LevelInfo:     "info",
	LevelWarning:  "warning",
	LevelError:    "error",
	LevelCritical: "critical",
	LevelNone:     "none",
}

// String returns the lowercase name of the level.
func (l Level) String() string {
	if l < LevelTrace || l > LevelNone {
		return fmt.Sprintf("level(%d)", int8(l))
	}
	return levelNames[l]
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	return l >= LevelTrace && l <= LevelNone
}

// Enabled reports whether a record at level l passes a minimum level filter.
// LevelNone never passes, whatever the minimum.
func (l Level) Enabled(min Level) bool {
	if l == LevelNone || min == LevelNone {
		return false
	}
	return l >= min
}

// ParseLevel parses a level name (case-insensitive). "warn" and "fatal" are
// accepted as aliases for warning and critical.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info", "information":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "critical", "fatal":
		return LevelCritical, nil
	case "none":
		return LevelNone, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
