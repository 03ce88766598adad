// Package handler defines how source files are turned into code fragments
// and resources, and provides the built-in handlers.
//
// A handler claims one or more file extensions. The set of handlers that
// apply to a unit's sources is an ActiveSet, built from the defaults and
// the plugin units the unit can see.
package handler

import (
	"fmt"
	"strings"
)

// ResourceType classifies a resource.
type ResourceType string

const (
	TypeJS    ResourceType = "js"
	TypeCSS   ResourceType = "css"
	TypeHead  ResourceType = "head"
	TypeBody  ResourceType = "body"
	TypeAsset ResourceType = "asset"
)

// Resource is a non-code output of a handler, or a linked output of a
// unit.
type Resource struct {
	Type ResourceType
	Data []byte

	// ServePath is set for browser outputs.
	ServePath string

	// Path is set for files written into a server bundle.
	Path string

	SourceMap string
}

// Code is a JavaScript fragment to be linked.
type Code struct {
	Source    []byte
	ServePath string
	Bare      bool
}

// Diagnostic is a problem a handler found in its input. Line and Column
// are 1-indexed and zero when unknown.
type Diagnostic struct {
	Line    int
	Column  int
	Message string
}

// Input is one source file.
type Input struct {
	Source []byte

	// Path is the slash-separated path relative to the package root.
	Path string

	// ServePath is where outputs derived from the file are served by
	// default.
	ServePath string

	// Arch is the unit architecture.
	Arch string

	// Package is the package name, empty for apps.
	Package string

	// Options are the per-file options from the package manifest.
	Options map[string]any
}

// Output is what a handler produced for one Input.
type Output struct {
	Code      []Code
	Resources []Resource
	Errors    []Diagnostic
}

// Errorf records a diagnostic.
func (o *Output) Errorf(line, column int, format string, args ...any) {
	o.Errors = append(o.Errors, Diagnostic{Line: line, Column: column, Message: fmt.Sprintf(format, args...)})
}

// Handler compiles files with the extensions it claims.
type Handler interface {
	// Name is the registry name of the handler.
	Name() string

	// Extensions lists the extensions claimed by default, without the
	// leading dot.
	Extensions() []string

	Compile(in Input) Output
}

// BoolOption reads a boolean per-file option. A present option of another
// type is reported on out and treated as false.
func BoolOption(in Input, name string, out *Output) bool {
	v, ok := in.Options[name]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		out.Errorf(0, 0, "option %q must be a boolean, got %T", name, v)
		return false
	}
	return b
}

// Extension returns every candidate extension of path, longest first:
// "a.min.js" yields "min.js" then "js". Leading dots of hidden files do
// not start an extension.
func Extension(path string) []string {
	base := path[strings.LastIndexByte(path, '/')+1:]
	base = strings.TrimLeft(base, ".")
	parts := strings.Split(base, ".")
	var out []string
	for i := 1; i < len(parts); i++ {
		out = append(out, strings.Join(parts[i:], "."))
	}
	return out
}

// position converts a byte offset into a 1-indexed line and column.
func position(src []byte, offset int) (int, int) {
	line, col := 1, 1
	for _, c := range src[:min(offset, len(src))] {
		if c == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
