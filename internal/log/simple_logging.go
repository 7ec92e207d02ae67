package log

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type (
	// Logger is the logging surface used by the protocol library. *slog.Logger satisfies it.
	Logger interface {
		Debug(msg string, args ...any)
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
		Error(msg string, args ...any)
	}
	NOOPLogger struct{}
)

func (NOOPLogger) Debug(msg string, args ...any) {
}

func (NOOPLogger) Info(msg string, args ...any) {
}

func (NOOPLogger) Warn(msg string, args ...any) {
}

func (NOOPLogger) Error(msg string, args ...any) {
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// New builds a structured logger writing to w.
// format is "text" or "json"; level is one of debug, info, warn, error.
func New(w io.Writer, format, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

// ParseLevel converts a level name into a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
