package logger

import (
	"log/slog"
	"os"
	"sync"

	"github.com/lmittmann/tint"
)

var (
	once   sync.Once
	logger *slog.Logger
)

type Options struct {
	Level      slog.Leveler // slog.LevelInfo, slog.LevelDebug, etc.
	Writer     *os.File     // default: os.Stdout
	TimeFormat string       // default: time.RFC3339
	JSON       bool         // structured output for log collectors
}

func Init(opts *Options) {
	once.Do(func() {
		writer := opts.Writer
		if writer == nil {
			writer = os.Stdout
		}

		var handler slog.Handler
		if opts.JSON {
			handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
				Level: opts.Level,
			})
		} else {
			handler = tint.NewHandler(writer, &tint.Options{
				Level:      opts.Level,
				TimeFormat: opts.TimeFormat,
			})
		}

		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// Info logs at info level.
func Info(msg string, args ...any) {
	if logger != nil {
		logger.Info(msg, args...)
	} else {
		slog.Info(msg, args...)
	}
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	if logger != nil {
		logger.Debug(msg, args...)
	} else {
		slog.Debug(msg, args...)
	}
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	if logger != nil {
		logger.Warn(msg, args...)
	} else {
		slog.Warn(msg, args...)
	}
}

// Error logs at error level.
func Error(msg string, args ...any) {
	if logger != nil {
		logger.Error(msg, args...)
	} else {
		slog.Error(msg, args...)
	}
}

// Fatal logs an error then exits.
func Fatal(msg string, args ...any) {
	Error(msg, args...)
	os.Exit(1)
}

func With(args ...any) *slog.Logger {
	return logger.With(args...)
}
