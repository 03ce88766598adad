// Package treesitter wraps tree-sitter parsing behind a small interface so
// that callers can fall back to heuristics when no parser backend is
// available.
//
// The only backend is the cgo one (smacker/go-tree-sitter). Without cgo,
// NewBackend reports ErrCGODisabled and callers are expected to degrade.
//
//	backend, err := treesitter.NewBackendFromEnv()
//	if err != nil {
//	    // use a heuristic instead
//	}
//	defer backend.Close()
//
//	parser, err := backend.NewParser(treesitter.JavaScript)
//	...
//	tree, err := parser.ParseString(ctx, "Foo = 1;")
//	defer tree.Close()
//
// Backends are safe for concurrent use. Parsers are not; create one per
// goroutine or guard it.
package treesitter

import "context"

// Language names a grammar.
type Language string

const (
	JavaScript Language = "javascript"
	HTML       Language = "html"
	CSS        Language = "css"
)

// AllLanguages returns every grammar this package knows about.
func AllLanguages() []Language {
	return []Language{JavaScript, HTML, CSS}
}

// Backend creates parsers.
type Backend interface {
	// Name returns the backend identifier.
	Name() string

	// SupportsLanguage reports whether NewParser accepts lang.
	SupportsLanguage(lang Language) bool

	// NewParser creates a parser for lang.
	NewParser(lang Language) (Parser, error)

	// Close releases the backend. Parsers already created stay usable.
	Close() error
}

// Parser parses source into a concrete syntax tree.
type Parser interface {
	Language() Language
	Parse(ctx context.Context, source []byte) (Tree, error)
	ParseString(ctx context.Context, source string) (Tree, error)
	Close() error
}

// Tree is a parsed syntax tree.
type Tree interface {
	RootNode() Node
	Source() []byte

	// HasError reports whether the tree contains error or missing nodes.
	HasError() bool

	Close() error
}

// Node is a syntax tree node.
type Node interface {
	Type() string
	StartByte() uint32
	EndByte() uint32

	// StartPoint returns the 0-indexed (row, column) of the node start.
	StartPoint() Point

	Content(source []byte) string
	ChildCount() uint32
	Child(index uint32) Node
	NamedChildCount() uint32
	NamedChild(index uint32) Node
	ChildByFieldName(name string) Node
	Parent() Node
	IsNamed() bool
	IsError() bool
	IsMissing() bool
	IsNull() bool
}

// Point is a 0-indexed source position.
type Point struct {
	Row    uint32
	Column uint32
}

// ErrLanguageNotSupported is returned for a grammar the backend lacks.
type ErrLanguageNotSupported struct {
	Language Language
	Backend  string
}

func (e ErrLanguageNotSupported) Error() string {
	return "language " + string(e.Language) + " is not supported by backend " + e.Backend
}

// ErrBackendClosed is returned when a closed backend is used.
type ErrBackendClosed struct {
	Backend string
}

func (e ErrBackendClosed) Error() string {
	return "backend " + e.Backend + " has been closed"
}

// ErrParserClosed is returned when a closed parser is used.
type ErrParserClosed struct{}

func (e ErrParserClosed) Error() string {
	return "parser has been closed"
}

// NamedChildren returns the named children of n.
func NamedChildren(n Node) []Node {
	if n == nil || n.IsNull() {
		return nil
	}
	count := n.NamedChildCount()
	if count == 0 {
		return nil
	}
	children := make([]Node, 0, count)
	for i := uint32(0); i < count; i++ {
		if child := n.NamedChild(i); child != nil {
			children = append(children, child)
		}
	}
	return children
}

// Walk visits n and its descendants depth-first. Returning false from visit
// skips the children of that node.
func Walk(n Node, visit func(Node) bool) {
	if n == nil || n.IsNull() {
		return
	}
	if !visit(n) {
		return
	}
	count := n.ChildCount()
	for i := uint32(0); i < count; i++ {
		if child := n.Child(i); child != nil {
			Walk(child, visit)
		}
	}
}

// FindByType returns every node of the given type below n, in document
// order.
func FindByType(n Node, nodeType string) []Node {
	var out []Node
	Walk(n, func(node Node) bool {
		if node.Type() == nodeType {
			out = append(out, node)
		}
		return true
	})
	return out
}

// FirstError returns the first error or missing node in document order, or
// nil.
func FirstError(n Node) Node {
	var found Node
	Walk(n, func(node Node) bool {
		if found != nil {
			return false
		}
		if node.IsError() || node.IsMissing() {
			found = node
			return false
		}
		return true
	})
	return found
}
