// Package linker turns a unit's code fragments into loadable output in two
// phases.
//
// Prelink runs once per unit. It analyzes each file for variables assigned
// without a declaration, wraps files in closures with banners and
// line-number comments, and (for packages) concatenates them into one
// file. Its output does not depend on what the unit imports.
//
// Link runs per bundle. It adds the import header, the package-scope
// variable declarations and the export footer around each prelinked file.
package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/albertocavalcante/forge/internal/log"
	"github.com/albertocavalcante/forge/pkg/buildmsg"
	"github.com/albertocavalcante/forge/pkg/changeset"
)

// DefaultCacheSize is the number of analysis results kept by a Linker.
const DefaultCacheSize = 4096

const (
	defaultWidth  = 70
	minWidth      = 68
	ignoreOver    = 118
	fileSeparator = "\n\n\n\n\n\n"
	closureOpen   = "(function(){"
)

// InputFile is one code fragment handed to Prelink.
type InputFile struct {
	Source []byte

	// ServePath is where the file would like to be served. It names the
	// file in banners and source maps.
	ServePath string

	// SourcePath is the path used in error messages.
	SourcePath string

	// Bare files are not wrapped in their own closure.
	Bare bool

	// Hash is the source fingerprint. It is computed when empty.
	Hash string
}

// OutputFile is a prelinked or linked file.
type OutputFile struct {
	Source    string
	ServePath string

	// SourceMap is a JSON source map, or empty.
	SourceMap string
}

// PrelinkOptions configures Prelink.
type PrelinkOptions struct {
	// Name is the package name, empty for apps.
	Name string

	Files []InputFile

	// UseGlobalNamespace keeps one output file per input and preserves
	// line numbers. Apps use it.
	UseGlobalNamespace bool

	// CombinedServePath names the single output file when files are
	// combined.
	CombinedServePath string

	// NoLineNumbers drops the trailing line-number comments.
	NoLineNumbers bool

	// Messages receives parse errors. It may be nil.
	Messages *buildmsg.Messages
}

// PrelinkResult is the output of Prelink.
type PrelinkResult struct {
	Files []OutputFile

	// AssignedVariables are the sorted names assigned in some file without
	// being declared.
	AssignedVariables []string
}

// Linker runs Prelink with a shared analysis cache. It is safe for
// concurrent use.
type Linker struct {
	analyzer Analyzer
	cache    *lru.Cache[string, []string]
	log      *slog.Logger
}

// Option configures a Linker.
type Option func(*linkerOptions)

type linkerOptions struct {
	analyzer  Analyzer
	cacheSize int
}

// WithAnalyzer sets the free-variable analyzer. The default is
// NewAnalyzer(AnalyzerAuto).
func WithAnalyzer(a Analyzer) Option {
	return func(o *linkerOptions) { o.analyzer = a }
}

// WithCacheSize sets the number of cached analysis results.
func WithCacheSize(n int) Option {
	return func(o *linkerOptions) { o.cacheSize = n }
}

// New creates a Linker.
func New(opts ...Option) (*Linker, error) {
	o := linkerOptions{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.analyzer == nil {
		a, err := NewAnalyzer(AnalyzerAuto)
		if err != nil {
			return nil, err
		}
		o.analyzer = a
	}
	if o.cacheSize <= 0 {
		o.cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, []string](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis cache: %w", err)
	}
	return &Linker{
		analyzer: o.analyzer,
		cache:    cache,
		log:      log.Component("linker").With("analyzer", o.analyzer.Name()),
	}, nil
}

// Analyzer returns the analyzer in use.
func (l *Linker) Analyzer() Analyzer {
	return l.analyzer
}

// Prelink analyzes and wraps opts.Files. A file that fails to parse is
// reported to opts.Messages and replaced by an empty file.
func (l *Linker) Prelink(opts PrelinkOptions) (*PrelinkResult, error) {
	files := make([]InputFile, len(opts.Files))
	copy(files, opts.Files)

	var assigned []string
	for i := range files {
		vars, err := l.assignedVariables(&files[i], opts.Messages)
		if err != nil {
			return nil, err
		}
		assigned = append(assigned, vars...)
	}
	slices.Sort(assigned)
	assigned = slices.Compact(assigned)

	var out []OutputFile
	if opts.UseGlobalNamespace {
		for _, f := range files {
			out = append(out, prelinkSingle(f))
		}
	} else if len(files) > 0 {
		out = []OutputFile{prelinkCombined(files, opts.CombinedServePath, opts.NoLineNumbers)}
	}
	return &PrelinkResult{Files: out, AssignedVariables: assigned}, nil
}

func (l *Linker) assignedVariables(f *InputFile, msgs *buildmsg.Messages) ([]string, error) {
	if f.Hash == "" {
		f.Hash = changeset.HashBytes(f.Source)
	}
	if vars, ok := l.cache.Get(f.Hash); ok {
		return vars, nil
	}
	vars, err := l.analyzer.AssignedGlobals(f.Source)
	if err != nil {
		var pe *ParseError
		if !errors.As(err, &pe) {
			return nil, fmt.Errorf("failed to analyze %s: %w", f.SourcePath, err)
		}
		msgs.Errorf([]buildmsg.Option{buildmsg.File(f.SourcePath), buildmsg.Pos(pe.Line, pe.Column)}, "%s", pe.Msg)
		l.log.Debug("parse error, treating file as empty", "file", f.SourcePath, "line", pe.Line, "column", pe.Column)
		f.Source = nil
		return nil, nil
	}
	l.log.Log(context.Background(), log.LevelTrace, "analyzed", "file", f.SourcePath, "assigned", vars)
	l.cache.Add(f.Hash, vars)
	return vars, nil
}

func prelinkSingle(f InputFile) OutputFile {
	w := &codeWriter{}
	mb := newMapBuilder(f.ServePath)
	writePrelinked(w, mb, f, defaultWidth, true, true)
	out := OutputFile{Source: w.String(), ServePath: f.ServePath}
	if !mb.empty() {
		out.SourceMap = mb.build().String()
	}
	return out
}

func prelinkCombined(files []InputFile, servePath string, noLineNumbers bool) OutputFile {
	width := max(minWidth, maxLineLength(files, ignoreOver))
	w := &codeWriter{}
	mb := newMapBuilder(servePath)
	for i, f := range files {
		if i > 0 {
			w.WriteString(fileSeparator)
		}
		writePrelinked(w, mb, f, width, noLineNumbers, false)
	}
	return OutputFile{Source: w.String(), ServePath: servePath, SourceMap: mb.build().String()}
}

// maxLineLength returns the longest line in any file, ignoring lines
// longer than limit.
func maxLineLength(files []InputFile, limit int) int {
	m := 0
	for _, f := range files {
		for line := range strings.SplitSeq(string(f.Source), "\n") {
			if n := utf8.RuneCountInString(line); n <= limit && n > m {
				m = n
			}
		}
	}
	return m
}

// writePrelinked writes one wrapped file. With preserveLineNumbers, source
// line N stays on output line N.
func writePrelinked(w *codeWriter, mb *mapBuilder, f InputFile, width int, noLineNumbers, preserveLineNumbers bool) {
	bannerWidth := width + 3
	if preserveLineNumbers {
		noLineNumbers = true
	}

	code := string(f.Source)
	lines := strings.Split(code, "\n")
	src := -1
	if code != "" {
		src = mb.addSource(f.ServePath, code)
	}

	if !noLineNumbers {
		for i, line := range lines {
			n := utf8.RuneCountInString(line)
			if n < width && !strings.HasSuffix(line, `\`) {
				lines[i] = fmt.Sprintf("%s%s // %d", line, strings.Repeat(" ", width-n), i+1)
			}
		}
	}

	if !f.Bare {
		w.WriteString(closureOpen)
		if !preserveLineNumbers {
			w.WriteString("\n\n")
		}
	}

	if !preserveLineNumbers {
		bannerLines := []string{strings.TrimPrefix(f.ServePath, "/")}
		if f.Bare {
			bannerLines = append(bannerLines, "This file is in bare mode and is not in its own closure.")
		}
		w.WriteString(banner(bannerLines, bannerWidth))
		w.WriteString(strings.Repeat(" ", width) + " //\n")
	}

	if code != "" {
		for i, line := range lines {
			if i > 0 {
				w.WriteString("\n")
			}
			mb.add(w.line, w.col, src, i, 0)
			w.WriteString(line)
		}
		// A trailing line comment must not swallow the footer.
		w.WriteString("\n")
	}

	if !f.Bare {
		if preserveLineNumbers {
			w.WriteString("}).call(this);\n")
		} else {
			w.WriteString(dividerLine(bannerWidth) + "\n}).call(this);\n")
		}
	}
}

// banner boxes lines in a comment of the given width. Longer lines are
// truncated.
func banner(lines []string, width int) string {
	inner := width - 6
	if inner < 0 {
		inner = 0
	}
	spacer := "// " + strings.Repeat(" ", inner) + " //\n"
	var sb strings.Builder
	sb.WriteString(dividerLine(width))
	sb.WriteString(spacer)
	for _, line := range lines {
		sb.WriteString("// ")
		sb.WriteString(padTruncate(line, inner))
		sb.WriteString(" //\n")
	}
	sb.WriteString(spacer)
	sb.WriteString(dividerLine(width))
	return sb.String()
}

func dividerLine(width int) string {
	return strings.Repeat("/", width) + "\n"
}

func padTruncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) >= n {
		return string(runes[:n])
	}
	return s + strings.Repeat(" ", n-len(runes))
}

// codeWriter tracks the 0-indexed line and column of the next byte.
type codeWriter struct {
	sb   strings.Builder
	line int
	col  int
}

func (w *codeWriter) WriteString(s string) {
	w.sb.WriteString(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		w.line += strings.Count(s, "\n")
		w.col = len(s) - i - 1
	} else {
		w.col += len(s)
	}
}

func (w *codeWriter) String() string {
	return w.sb.String()
}
