package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jagjeet027/FurniMart-sub002/internal/config"
	"github.com/jagjeet027/FurniMart-sub002/internal/logring"
)

// Setup configures the global slog logger from config settings.
// If ring is non-nil, records are also captured there for the status API.
// Returns the lumberjack logger (if file logging) so it can be closed on shutdown.
func Setup(cfg config.LoggingConfig, ring *logring.RingBuffer) *lumberjack.Logger {
	var w io.Writer = os.Stdout
	var lj *lumberjack.Logger

	if cfg.File != "" {
		lj = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = lj
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	if ring != nil {
		handler = logring.NewTeeHandler(handler, ring)
	}

	slog.SetDefault(slog.New(handler))
	return lj
}

// ParseLevel maps a config level string to a slog.Level.
// Unknown values fall back to Info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
