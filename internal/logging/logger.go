// Package logging builds the process logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
	"gopkg.in/natefinch/lumberjack.v2"

	"embed-proxy-go/internal/config"
)

// New returns a slog.Logger writing to stdout and, when log.file is set, to a
// size-rotated file as well. The file is closed when the app stops.
func New(lc fx.Lifecycle, cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stdout

	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Compress:   cfg.Log.Compress,
			LocalTime:  true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return rotator.Close()
			},
		})
	}

	return NewWithWriter(out, cfg.Log)
}

// NewWithWriter returns a slog.Logger for the given level and format writing to w.
func NewWithWriter(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		h = slog.NewJSONHandler(w, opts)
	}

	return slog.New(h)
}

// ParseLevel maps a config level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
