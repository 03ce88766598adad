package log

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// HandlerOptions configures the log handler.
type HandlerOptions struct {
	Level     slog.Leveler
	Format    string // "text" or "json"
	Output    io.Writer
	AddSource bool

	// Root, when set, is stripped from path-valued attributes so that
	// records name files relative to the project.
	Root string
}

// pathKeys are the attribute keys whose values are file system paths.
var pathKeys = map[string]bool{
	"path":     true,
	"dir":      true,
	"file":     true,
	"artifact": true,
	"cache":    true,
	"root":     true,
}

// NewHandler creates a text or JSON handler writing to opts.Output, or
// stderr when unset.
func NewHandler(opts HandlerOptions) slog.Handler {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       opts.Level,
		AddSource:   opts.AddSource,
		ReplaceAttr: replaceAttr(opts.Root),
	}

	if opts.Format == "json" {
		return slog.NewJSONHandler(opts.Output, handlerOpts)
	}
	return slog.NewTextHandler(opts.Output, handlerOpts)
}

func replaceAttr(root string) func([]string, slog.Attr) slog.Attr {
	prefix := ""
	if root != "" {
		prefix = filepath.Clean(root) + string(filepath.Separator)
	}
	return func(_ []string, a slog.Attr) slog.Attr {
		switch {
		case a.Key == slog.LevelKey:
			if level, ok := a.Value.Any().(slog.Level); ok {
				a.Value = slog.StringValue(LevelName(level))
			}
		case prefix != "" && pathKeys[a.Key] && a.Value.Kind() == slog.KindString:
			if rel, ok := strings.CutPrefix(a.Value.String(), prefix); ok {
				a.Value = slog.StringValue(filepath.ToSlash(rel))
			}
		}
		return a
	}
}
