// Package logging builds the slog loggers used by the jobsys daemon and CLI.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a logger writing to stderr.
//
// level: slog level (DEBUG, INFO, WARN, ERROR)
// format: "text" (human-readable) or "json" (structured)
//
// stdout is reserved for program output such as CLI tables.
func NewLogger(level slog.Level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to w at a fixed level.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	lv := new(slog.LevelVar)
	lv.Set(level)
	return slog.New(newHandler(format, w, lv))
}

// NewDynamic creates a logger whose level can be changed while the daemon
// runs through the returned LevelVar.
func NewDynamic(level, format string, w io.Writer) (*slog.Logger, *slog.LevelVar, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	lv := new(slog.LevelVar)
	lv.Set(lvl)
	return slog.New(newHandler(format, w, lv)), lv, nil
}

func newHandler(format string, w io.Writer, lv *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{Level: lv}
	if lv.Level() <= slog.LevelDebug {
		opts.AddSource = true
	}
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// ParseLevel converts a level name to slog.Level. An empty string means
// info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// LevelName renders a level the way ParseLevel accepts it.
func LevelName(l slog.Level) string {
	return strings.ToLower(l.String())
}
