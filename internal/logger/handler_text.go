package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// textHandler is the slog.Handler used for terminals. One line per record:
//
//	[2026-01-02 15:04:05] [INFO] message key=value key=value
//
// Level and key names are colored when the destination is a TTY. JSON
// output for files and pipes comes from slog.NewJSONHandler instead.
type textHandler struct {
	w     io.Writer
	mu    *sync.Mutex
	level slog.Leveler
	color bool

	// bound state from WithAttrs/WithGroup
	attrs  []slog.Attr
	prefix string
}

// NewTextHandler builds a handler writing human-readable lines to w.
func NewTextHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &textHandler{
		w:     w,
		mu:    &sync.Mutex{},
		color: color,
	}
	if opts != nil {
		h.level = opts.Level
	}
	return h
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.level != nil {
		min = h.level.Level()
	}
	return level >= min
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	line := make([]byte, 0, 128)
	line = append(line, '[')
	line = r.Time.AppendFormat(line, "2006-01-02 15:04:05")
	line = append(line, "] ["...)
	line = h.appendLevel(line, r.Level)
	line = append(line, "] "...)
	line = append(line, r.Message...)

	for _, a := range h.attrs {
		line = h.appendAttr(line, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		line = h.appendAttr(line, a)
		return true
	})
	line = append(line, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(line)
	return err
}

func (h *textHandler) appendLevel(line []byte, level slog.Level) []byte {
	var name, color string
	switch {
	case level < slog.LevelInfo:
		name, color = "DEBUG", ansiGray
	case level < slog.LevelWarn:
		name, color = "INFO", ansiGreen
	case level < slog.LevelError:
		name, color = "WARN", ansiYellow
	default:
		name, color = "ERROR", ansiRed
	}
	if !h.color {
		return append(line, name...)
	}
	line = append(line, color...)
	line = append(line, name...)
	return append(line, ansiReset...)
}

func (h *textHandler) appendAttr(line []byte, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return line
	}
	a.Value = a.Value.Resolve()

	line = append(line, ' ')
	if h.color {
		line = append(line, ansiCyan...)
	}
	line = append(line, h.prefix...)
	line = append(line, a.Key...)
	if h.color {
		line = append(line, ansiReset...)
	}
	line = append(line, '=')
	return appendValue(line, a.Value)
}

func appendValue(line []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return append(line, v.String()...)
	case slog.KindInt64:
		return strconv.AppendInt(line, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(line, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(line, v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.AppendBool(line, v.Bool())
	case slog.KindDuration:
		return append(line, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(line, time.RFC3339)
	default:
		return fmt.Append(line, v.Any())
	}
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	child := h.clone()
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		child.attrs = append(child.attrs, a)
	}
	return child
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	child := h.clone()
	child.prefix = h.prefix + name + "."
	return child
}

func (h *textHandler) clone() *textHandler {
	return &textHandler{
		w:      h.w,
		mu:     h.mu, // serialize writes across the handler tree
		level:  h.level,
		color:  h.color,
		attrs:  append([]slog.Attr(nil), h.attrs...),
		prefix: h.prefix,
	}
}
