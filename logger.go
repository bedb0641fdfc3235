package g3d

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/g3d/internal/alloc"
	"github.com/gogpu/g3d/internal/fence"
	"github.com/gogpu/g3d/internal/upload"
	"github.com/gogpu/g3d/watch"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for g3d and its internal packages.
// By default, g3d produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by g3d:
//   - [slog.LevelDebug]: allocator page growth, synchronizer waits, descriptor stack use
//   - [slog.LevelInfo]: backend and adapter selection, swap chain resize, pipeline promotion
//   - [slog.LevelWarn]: soft failures (over-cap dynamic allocation, missing timestamp support)
//   - [slog.LevelError]: an unrecoverable native failure, right before the panic
//
// Example:
//
//	g3d.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	fence.SetLogger(l)
	alloc.SetLogger(l)
	upload.SetLogger(l)
	watch.SetLogger(l)
}

// Logger returns the current logger used by g3d.
// The pipeline package calls this to share the same logger configuration.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

func slogger() *slog.Logger { return loggerPtr.Load() }
