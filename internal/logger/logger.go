// Package logger wires up the process-wide slog logger used by the
// supervisor CLI. Host stdout is reserved for the child's rendered PTY
// output, so diagnostic logging always goes to stderr; a separate
// per-PID debug trace file is opened by the supervisor when requested.
package logger

import (
	"log/slog"
	"os"
)

var Log *slog.Logger

// Init initializes the global logger. verbose selects slog.LevelDebug,
// otherwise slog.LevelInfo.
func Init(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05.000"))
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)
}

// NewDebugFile opens (or creates) path and returns a slog.Logger that
// writes debug-level text records to it. Used for logs/<pid>.debug.log.
func NewDebugFile(path string) (*slog.Logger, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), f, nil
}

func init() {
	Init(false)
}

// Debug logs at debug level on the default logger.
func Debug(msg string, args ...any) { Log.Debug(msg, args...) }

// Info logs at info level on the default logger.
func Info(msg string, args ...any) { Log.Info(msg, args...) }

// Warn logs at warn level on the default logger.
func Warn(msg string, args ...any) { Log.Warn(msg, args...) }

// Error logs at error level on the default logger.
func Error(msg string, args ...any) { Log.Error(msg, args...) }
