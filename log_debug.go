//go:build ringbuf_debug

package ringbuf

import (
	"log/slog"
	"os"
)

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))

// SetLogger sets the logger used by the package's debug builds.
func SetLogger(l *slog.Logger) {
	defaultLogger = l
}

func logDebug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

func logInfo(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}
