package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/citypulse/ingestgw/internal/config"
)

const serviceName = "ingestgw"

// New builds the process logger writing to stdout.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter builds a logger writing to w. Every line carries the
// service name.
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		// Cloud Logging reads "severity" and "message" from structured stdout.
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       cfg.Level,
			ReplaceAttr: cloudLoggingAttrs,
		})
	case "text":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.Level})
	default:
		return nil, fmt.Errorf("unsupported log format: %s", cfg.Format)
	}

	return slog.New(handler).With("service", serviceName), nil
}

// Component returns a child logger tagged with a component name.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func cloudLoggingAttrs(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.LevelKey:
		level, _ := a.Value.Any().(slog.Level)
		return slog.String("severity", severity(level))
	case slog.MessageKey:
		a.Key = "message"
	}
	return a
}

func severity(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARNING"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
