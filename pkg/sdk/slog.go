package sdk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nicktill/tinylog/pkg/record"
)

// Attribute keys the handler lifts out of the message.
const (
	CategoryKey = "category"
	ErrorKey    = "error"
)

// Handler returns a slog.Handler that forwards records into the client.
// The "category" attribute selects the category, an error-valued "error"
// attribute becomes the exception, and remaining attributes are appended to
// the message as key=value pairs.
func (c *Client) Handler() slog.Handler {
	return &slogHandler{client: c, category: c.config.Service}
}

type slogHandler struct {
	client   *Client
	category string
	attrs    []slog.Attr
	group    string
}

// Enabled gates by the client minimum level.
func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.client.Enabled(fromSlogLevel(level))
}

func (h *slogHandler) Handle(_ context.Context, r slog.Record) error {
	category := h.category
	var err error
	var b strings.Builder
	b.WriteString(r.Message)

	add := func(a slog.Attr) bool {
		a.Value = a.Value.Resolve()
		switch {
		case a.Equal(slog.Attr{}):
			return true
		case a.Key == CategoryKey:
			category = a.Value.String()
			return true
		case a.Key == ErrorKey:
			if e, ok := a.Value.Any().(error); ok {
				err = e
				return true
			}
		}
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
		return true
	}

	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		return add(h.qualify(a))
	})

	h.client.Emit(fromSlogLevel(r.Level), category, b.String(), err)
	return nil
}

// WithAttrs returns a copy of the handler with additional base attributes,
// qualified by the current group.
func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	if len(attrs) > 0 {
		nh.attrs = append([]slog.Attr{}, h.attrs...)
		for _, a := range attrs {
			nh.attrs = append(nh.attrs, h.qualify(a))
		}
	}
	return &nh
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	nh.group = name
	return &nh
}

// qualify prefixes the key with the open group, so grouped attributes never
// shadow the category and error keys.
func (h *slogHandler) qualify(a slog.Attr) slog.Attr {
	if h.group != "" && a.Key != "" {
		a.Key = h.group + "." + a.Key
	}
	return a
}

// fromSlogLevel maps slog levels onto record levels; anything above Error is Critical.
func fromSlogLevel(level slog.Level) record.Level {
	switch {
	case level < slog.LevelDebug:
		return record.LevelTrace
	case level < slog.LevelInfo:
		return record.LevelDebug
	case level < slog.LevelWarn:
		return record.LevelInfo
	case level < slog.LevelError:
		return record.LevelWarning
	case level == slog.LevelError:
		return record.LevelError
	default:
		return record.LevelCritical
	}
}
