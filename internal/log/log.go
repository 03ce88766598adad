package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

var (
	logger    atomic.Pointer[slog.Logger]
	level     = new(slog.LevelVar)
	verbosity atomic.Int32

	// mu guards the handler settings below across re-initialization.
	mu     sync.Mutex
	format = "text"
	output io.Writer = os.Stderr
	root   string
)

func init() {
	// Warnings only until Init is called
	level.Set(slog.LevelWarn)
	verbosity.Store(VerbosityWarn)
	rebuild()
}

func rebuild() {
	newLogger := slog.New(NewHandler(HandlerOptions{
		Level:  level,
		Format: format,
		Output: output,
		Root:   root,
	}))
	logger.Store(newLogger)
	slog.SetDefault(newLogger)
}

// Init initializes the global logger (call once at startup).
func Init(v int, f string) {
	InitWithOutput(v, f, os.Stderr)
}

// InitWithOutput is Init with an explicit destination.
func InitWithOutput(v int, f string, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	SetVerbosity(v)
	format = f
	output = w
	rebuild()
}

// SetRoot makes path attributes under dir print relative to it. Loggers
// obtained from Component before the call keep the old setting.
func SetRoot(dir string) {
	mu.Lock()
	defer mu.Unlock()
	root = dir
	rebuild()
}

// SetVerbosity changes verbosity at runtime. It applies to every logger,
// including ones obtained before the call.
func SetVerbosity(v int) {
	verbosity.Store(int32(v))
	level.Set(VerbosityToLevel(v))
}

// Verbosity returns the current verbosity level.
func Verbosity() int {
	return int(verbosity.Load())
}

// Component returns a logger tagged with component name.
// The returned logger is bound to the logger current at call time, so
// long-lived values should call Component lazily rather than caching it
// before Init.
func Component(name string) *slog.Logger {
	return logger.Load().With("component", name)
}

// Enabled reports whether records at level l would be emitted.
func Enabled(l slog.Level) bool {
	return logger.Load().Enabled(context.Background(), l)
}
