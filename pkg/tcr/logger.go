package tcr

import (
	"log/slog"
	"os"
	"sync/atomic"
)

// The package logs every failure path it absorbs (relay decode errors,
// transport errors, shutdown join errors) instead of returning them.
var packageLogger atomic.Pointer[slog.Logger]

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	packageLogger.Store(slog.New(handler))
}

// SetLogger replaces the package-wide structured logger.
func SetLogger(l *slog.Logger) {
	if l != nil {
		packageLogger.Store(l)
	}
}

func logger() *slog.Logger {
	return packageLogger.Load()
}
