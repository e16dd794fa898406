// Package logger wires structured logging for the runtime: a level
// threshold, a dev-vs-production base handler, and a wrapper that keeps
// third-party dependency chatter (koanf, otel, go-openai, mcp-go, ...)
// out of anything above debug so the runtime's own warnings aren't
// buried under library noise.
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

var defaultLogger *slog.Logger

// ownPackagePrefix identifies call sites belonging to this module, used
// to silence third-party logs at non-debug levels.
const ownPackagePrefix = "github.com/arcveil/conduit"

// ParseLevel converts a string log level to slog.Level. Anything
// unrecognized defaults to Warn rather than failing startup over a typo
// in a config file.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, nil
	}
}

// ownPackageFilter wraps a base handler and, below debug, drops any
// record whose call site isn't inside this module.
type ownPackageFilter struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *ownPackageFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *ownPackageFilter) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel > slog.LevelDebug && !fromOwnPackage(record.PC) {
		return nil
	}
	return h.handler.Handle(ctx, record)
}

func (h *ownPackageFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ownPackageFilter{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *ownPackageFilter) WithGroup(name string) slog.Handler {
	return &ownPackageFilter{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func fromOwnPackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	return strings.Contains(fn.Name(), ownPackagePrefix)
}

// Init installs the process-wide default logger: a level threshold, a
// base handler picked by format ("json" for production log shipping,
// anything else a plain text handler for local development), wrapped in
// the own-package filter.
func Init(level slog.Level, output *os.File, format string) {
	opts := &slog.HandlerOptions{Level: level}

	var base slog.Handler
	if format == "json" {
		base = slog.NewJSONHandler(output, opts)
	} else {
		base = slog.NewTextHandler(output, opts)
	}

	defaultLogger = slog.New(&ownPackageFilter{handler: base, minLevel: level})
	slog.SetDefault(defaultLogger)
}

// OpenLogFile opens or creates a log file for appending, returning the
// handle and a cleanup func to close it.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { file.Close() }, nil
}

// GetLogger returns the process-wide logger, initializing a default
// (info level, text format, stderr) one on first use.
func GetLogger() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr, "text")
	}
	return defaultLogger
}
