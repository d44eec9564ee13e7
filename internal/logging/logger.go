package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"log/slog"
)

// Options selects the level and output format for the process logger.
type Options struct {
	Level  string
	Format string
}

// New shapes slog so every component emits telemetry with a consistent level,
// format, and component tag.
func New(opts Options) (*slog.Logger, error) {
	return NewWithWriter(os.Stdout, opts)
}

// NewWithWriter behaves like New but writes to the supplied sink, which keeps
// tests from spraying log lines onto stdout.
func NewWithWriter(w io.Writer, opts Options) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(opts.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("logging: unsupported level %q", opts.Level)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json", "":
		handler = slog.NewJSONHandler(w, handlerOpts)
	case "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", opts.Format)
	}

	return slog.New(handler).With(slog.String("component", "rwaf")), nil
}
