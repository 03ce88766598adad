// Package watch formats forge watch-mode output for terminals and tools.
package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// Status colors an event marker.
type Status string

const (
	StatusOK      Status = "✓"
	StatusPending Status = "~"
	StatusFailed  Status = "✗"
)

// Logger handles watch mode output formatting.
type Logger struct {
	writer  io.Writer
	isTTY   bool
	verbose bool
	noColor bool
	jsonOut bool

	statsMu sync.Mutex
	stats   Stats
}

// Stats tracks statistics for the watch session.
type Stats struct {
	RebuildCount int
	ErrorCount   int
	StartTime    time.Time
}

// LoggerConfig configures the logger.
type LoggerConfig struct {
	Writer  io.Writer
	Verbose bool
	NoColor bool
	JSON    bool
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggerConfig) *Logger {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	isTTY := false
	if f, ok := writer.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}

	return &Logger{
		writer:  writer,
		isTTY:   isTTY,
		verbose: cfg.Verbose,
		noColor: cfg.NoColor,
		jsonOut: cfg.JSON,
		stats: Stats{
			StartTime: time.Now(),
		},
	}
}

// Ready logs that the initial build finished and watching has begun.
func (l *Logger) Ready(packages []string, files int, arch string) {
	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event":    "ready",
			"packages": packages,
			"files":    files,
			"arch":     arch,
		})
		return
	}

	l.printf("forge: watching %d files for %s\n", files, arch)
	if len(packages) > 0 {
		l.printf("forge: packages: ")
		for i, name := range packages {
			if i > 0 {
				l.printf(", ")
			}
			l.printf("%s", name)
		}
		l.println()
	}
	l.println("forge: ready")
	l.println()
}

// Changed logs that the watched sources no longer match.
func (l *Logger) Changed() {
	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event": "changed",
			"time":  time.Now().Format(time.RFC3339),
		})
		return
	}

	if l.verbose {
		l.printf("[%s] %s sources changed\n", l.timestamp(), l.colorize(StatusPending))
	}
}

// Rebuilding logs that a rebuild is starting.
func (l *Logger) Rebuilding(packages []string) {
	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event":    "rebuilding",
			"packages": packages,
			"time":     time.Now().Format(time.RFC3339),
		})
		return
	}

	if len(packages) == 1 {
		l.printf("[%s] rebuilding %s...\n", l.timestamp(), packages[0])
	} else {
		l.printf("[%s] rebuilding %d packages...\n", l.timestamp(), len(packages))
	}
}

// Rebuilt logs a successful rebuild.
func (l *Logger) Rebuilt(units, resources int, elapsed time.Duration) {
	l.statsMu.Lock()
	l.stats.RebuildCount++
	l.statsMu.Unlock()

	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event":     "rebuilt",
			"units":     units,
			"resources": resources,
			"elapsed":   elapsed.String(),
			"time":      time.Now().Format(time.RFC3339),
		})
		return
	}

	l.printf("[%s] %s %d units, %d resources (%s)\n", l.timestamp(), l.colorize(StatusOK),
		units, resources, elapsed.Round(time.Millisecond))
}

// Error logs an error.
func (l *Logger) Error(err error) {
	l.statsMu.Lock()
	l.stats.ErrorCount++
	l.statsMu.Unlock()

	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event": "error",
			"error": err.Error(),
			"time":  time.Now().Format(time.RFC3339),
		})
		return
	}

	l.printf("[%s] %s error: %v\n", l.timestamp(), l.colorize(StatusFailed), err)
}

// Shutdown logs the shutdown message with statistics.
func (l *Logger) Shutdown() {
	stats := l.Stats()

	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event":    "shutdown",
			"rebuilds": stats.RebuildCount,
			"errors":   stats.ErrorCount,
			"duration": time.Since(stats.StartTime).String(),
		})
		return
	}

	l.println()
	l.printf("forge: shutting down (%d rebuilds, %d errors)\n",
		stats.RebuildCount, stats.ErrorCount)
}

// Stats returns the current watch statistics.
func (l *Logger) Stats() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats
}

// timestamp returns the current time formatted as HH:MM:SS.
func (l *Logger) timestamp() string {
	return time.Now().Format("15:04:05")
}

// colorize applies ANSI color codes based on status.
func (l *Logger) colorize(s Status) string {
	if l.noColor || !l.isTTY {
		return string(s)
	}

	var color string
	switch s {
	case StatusOK:
		color = "\033[32m" // green
	case StatusPending:
		color = "\033[33m" // yellow
	case StatusFailed:
		color = "\033[31m" // red
	default:
		return string(s)
	}
	return color + string(s) + "\033[0m"
}

func (l *Logger) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		l.println(`{"event":"internal_error","error":"json marshal failed"}`)
		return
	}
	l.println(string(data))
}

// printf and println ignore write errors; the output is informational.
func (l *Logger) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(l.writer, format, args...)
}

func (l *Logger) println(args ...any) {
	_, _ = fmt.Fprintln(l.writer, args...)
}
