package logging

import (
	"context"
	"log/slog"
	"maps"
	"time"
)

// EntryCallback is called when a new log entry is buffered.
type EntryCallback func(entry LogEntry)

// BufferHandler records entries into the package history. The history is
// looked up per record, so handlers created before Initialize start
// recording once it runs.
//
// The "module" attribute is lifted into LogEntry.Module; the rest are kept
// flat with groups joined by '.'.
type BufferHandler struct {
	level  slog.Leveler
	module string
	attrs  map[string]any
	prefix string
}

// NewBufferHandler creates a handler writing to the package history buffer.
func NewBufferHandler(level slog.Leveler) *BufferHandler {
	return &BufferHandler{level: level, module: "app"}
}

func (h *BufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *BufferHandler) Handle(_ context.Context, r slog.Record) error {
	mutex.RLock()
	buffer, callback := history, entryCallback
	mutex.RUnlock()
	if buffer == nil {
		return nil
	}

	entry := LogEntry{
		Timestamp: r.Time,
		Level:     levelName(r.Level),
		Module:    h.module,
		Message:   r.Message,
	}
	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		entry.Attributes = maps.Clone(h.attrs)
		if entry.Attributes == nil {
			entry.Attributes = make(map[string]any, r.NumAttrs())
		}
		r.Attrs(func(a slog.Attr) bool {
			if h.prefix == "" && a.Key == "module" {
				entry.Module = a.Value.String()
				return true
			}
			bufferAttr(entry.Attributes, h.prefix, a)
			return true
		})
		if len(entry.Attributes) == 0 {
			entry.Attributes = nil
		}
	}

	buffer.Write(entry)
	if callback != nil {
		callback(entry)
	}
	return nil
}

func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &BufferHandler{level: h.level, module: h.module, attrs: maps.Clone(h.attrs), prefix: h.prefix}
	if next.attrs == nil {
		next.attrs = make(map[string]any, len(attrs))
	}
	for _, a := range attrs {
		if h.prefix == "" && a.Key == "module" {
			next.module = a.Value.String()
			continue
		}
		bufferAttr(next.attrs, h.prefix, a)
	}
	return next
}

func (h *BufferHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	prefix := name
	if h.prefix != "" {
		prefix = h.prefix + "." + name
	}
	return &BufferHandler{level: h.level, module: h.module, attrs: h.attrs, prefix: prefix}
}

// bufferAttr stores a in attrs as a JSON friendly value.
func bufferAttr(attrs map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		for _, ga := range a.Value.Group() {
			bufferAttr(attrs, key, ga)
		}
	case slog.KindTime:
		attrs[key] = a.Value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		attrs[key] = a.Value.Duration().String()
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			attrs[key] = err.Error()
		} else {
			attrs[key] = a.Value.Any()
		}
	default:
		attrs[key] = a.Value.Any()
	}
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
