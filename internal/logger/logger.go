// Package logger is the process-wide structured logger. Text output goes
// to terminals, JSON everywhere else; level and format can be changed at
// runtime (the config watcher uses that on reload).
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Config selects level, format and destination.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

var levelNames = map[string]slog.Level{
	"DEBUG": slog.LevelDebug,
	"INFO":  slog.LevelInfo,
	"WARN":  slog.LevelWarn,
	"ERROR": slog.LevelError,
}

var (
	minLevel      atomic.Int32
	currentFormat atomic.Value

	mu       sync.RWMutex
	slogger  *slog.Logger
	output   io.Writer = os.Stdout
	useColor           = true
)

func init() {
	minLevel.Store(int32(slog.LevelInfo))
	currentFormat.Store("text")
	if f, ok := output.(*os.File); ok {
		useColor = isTerminal(f.Fd())
	}
	reconfigure()
}

// reconfigure rebuilds the slog handler from the current settings.
// Callers must not hold mu.
func reconfigure() {
	mu.Lock()
	defer mu.Unlock()

	lv := new(slog.LevelVar)
	lv.Set(slog.Level(minLevel.Load()))
	opts := &slog.HandlerOptions{Level: lv}

	var h slog.Handler
	if format, _ := currentFormat.Load().(string); format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = NewTextHandler(output, opts, useColor)
	}
	slogger = slog.New(h)
}

// Init applies a full configuration. An Output of "stdout" or "stderr"
// picks the stream; anything else is opened as an append-only file.
func Init(cfg Config) error {
	if cfg.Output != "" {
		mu.Lock()
		switch strings.ToLower(cfg.Output) {
		case "stdout":
			output = os.Stdout
			useColor = isTerminal(os.Stdout.Fd())
		case "stderr":
			output = os.Stderr
			useColor = isTerminal(os.Stderr.Fd())
		default:
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				mu.Unlock()
				return fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
			}
			output = f
			useColor = false
		}
		mu.Unlock()
	}

	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}
	return nil
}

// SetLevel changes the minimum level. Unknown names are ignored.
func SetLevel(level string) {
	l, ok := levelNames[strings.ToUpper(level)]
	if !ok {
		return
	}
	minLevel.Store(int32(l))
	reconfigure()
}

// SetFormat switches between "text" and "json". Unknown names are ignored.
func SetFormat(format string) {
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return
	}
	currentFormat.Store(format)
	reconfigure()
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

func enabled(l slog.Level) bool {
	return l >= slog.Level(minLevel.Load())
}

// Debug, Info, Warn and Error log at their level with alternating
// key/value args, slog-style. Field helpers in fields.go build typed attrs.

func Debug(msg string, args ...any) {
	if enabled(slog.LevelDebug) {
		current().Debug(msg, args...)
	}
}

func Info(msg string, args ...any) {
	if enabled(slog.LevelInfo) {
		current().Info(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if enabled(slog.LevelWarn) {
		current().Warn(msg, args...)
	}
}

func Error(msg string, args ...any) {
	current().Error(msg, args...)
}

// The Ctx variants prepend fields carried by a LogContext (trace id,
// operation, domain, caller identity) before the call-site args.

func DebugCtx(ctx context.Context, msg string, args ...any) {
	if enabled(slog.LevelDebug) {
		current().Debug(msg, prependContextFields(ctx, args)...)
	}
}

func InfoCtx(ctx context.Context, msg string, args ...any) {
	if enabled(slog.LevelInfo) {
		current().Info(msg, prependContextFields(ctx, args)...)
	}
}

func WarnCtx(ctx context.Context, msg string, args ...any) {
	if enabled(slog.LevelWarn) {
		current().Warn(msg, prependContextFields(ctx, args)...)
	}
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	current().Error(msg, prependContextFields(ctx, args)...)
}

func prependContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	out := make([]any, 0, 12+len(args))
	if lc.TraceID != "" {
		out = append(out, KeyTraceID, lc.TraceID)
	}
	if lc.RequestID != "" {
		out = append(out, KeyRequestID, lc.RequestID)
	}
	if lc.Operation != "" {
		out = append(out, KeyOperation, lc.Operation)
	}
	if lc.Domain != "" {
		out = append(out, KeyDomain, lc.Domain)
	}
	if lc.ClientIP != "" {
		out = append(out, KeyClientIP, lc.ClientIP)
	}
	if lc.UserID != "" {
		out = append(out, KeyUserID, lc.UserID)
	}
	return append(out, args...)
}
