//go:build !ringbuf_debug

package ringbuf

import "log/slog"

// SetLogger sets the logger for the package. In release builds this is a
// no-op, but the signature must match so user code compiles either way.
func SetLogger(l *slog.Logger) {}

// logDebug is a no-op in release builds; the compiler removes the calls.
func logDebug(msg string, args ...any) {}

// logInfo is a no-op in release builds.
func logInfo(msg string, args ...any) {}
