// Package log provides structured logging with verbosity levels for forge.
// It is a thin layer over log/slog with klog-style -v=N verbosity.
package log

import "log/slog"

// LevelTrace is more verbose than slog.LevelDebug.
const LevelTrace = slog.Level(-8)

// Verbosity levels accepted by -v.
const (
	VerbosityError = 0 // Errors only (quiet)
	VerbosityWarn  = 1 // + Warnings
	VerbosityInfo  = 2 // + Info (packages built, cache summaries)
	VerbosityDebug = 3 // + Debug (cache decisions, watcher fires, rebuild reasons)
	VerbosityTrace = 4 // + Trace (per-file analysis, staging writes)
)

// VerbosityToLevel maps -v=N to a slog level.
func VerbosityToLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError
	case v == 1:
		return slog.LevelWarn
	case v == 2:
		return slog.LevelInfo
	case v == 3:
		return slog.LevelDebug
	default:
		return LevelTrace
	}
}

// LevelToVerbosity maps a slog level back to -v=N.
func LevelToVerbosity(l slog.Level) int {
	switch {
	case l >= slog.LevelError:
		return VerbosityError
	case l >= slog.LevelWarn:
		return VerbosityWarn
	case l >= slog.LevelInfo:
		return VerbosityInfo
	case l >= slog.LevelDebug:
		return VerbosityDebug
	default:
		return VerbosityTrace
	}
}

// LevelName returns the display name for a level, including LevelTrace.
func LevelName(l slog.Level) string {
	if l <= LevelTrace {
		return "TRACE"
	}
	return l.String()
}
