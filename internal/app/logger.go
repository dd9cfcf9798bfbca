// Package app wires configuration into the engine, relay and health
// components shared by the fenrys binaries.
package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lllypuk/fenrys/internal/config"
)

// SetupLogger creates the structured logger described by cfg and makes it
// the slog default.
func SetupLogger(cfg *config.Config) *slog.Logger {
	return setupLogger(cfg, os.Stdout)
}

func setupLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     ParseLogLevel(cfg.Log.Level),
		AddSource: cfg.IsDevelopment(),
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler).With(slog.String("app", cfg.App.Name))
	slog.SetDefault(logger)

	return logger
}

// ParseLogLevel converts a string log level to slog.Level.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Instance returns the name this process stamps on relayed envelopes.
func Instance(cfg *config.Config) string {
	if cfg.App.Instance != "" {
		return cfg.App.Instance
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return cfg.App.Name
}
