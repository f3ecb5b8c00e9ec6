// Package logger provides a centralized slog-based logger with level and format control.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jedrekdomanski/ai-caption-craft/internal/envutil"
)

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

var defaultLogger *slog.Logger

// Init initializes the global logger based on environment variables.
// Priority: CAPTION_LOG_LEVEL > LOG_LEVEL > Default ("info")
// CAPTION_LOG_FORMAT: text, json (default: text)
func Init() *slog.Logger {
	level, _ := envutil.GetCompatEnv("LOG_LEVEL", "", "LOG_LEVEL")
	format, _ := envutil.GetCompatEnv("LOG_FORMAT", "")
	defaultLogger = New(os.Stderr, level, format)
	slog.SetDefault(defaultLogger)
	return defaultLogger
}

// New builds a logger writing to w without touching the global default.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if format == "" {
		format = DefaultLogFormat
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		if s == "" {
			return parseLevel(DefaultLogLevel)
		}
		return slog.LevelInfo
	}
}

// Default returns the logger set by Init, or slog's default before Init runs.
func Default() *slog.Logger {
	if defaultLogger != nil {
		return defaultLogger
	}
	return slog.Default()
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}
