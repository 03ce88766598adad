package linker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/albertocavalcante/forge/pkg/treesitter"
)

var errNoBackend = errors.New("no tree-sitter backend")

// treeSitterAnalyzer resolves assignments against function scopes on a
// tree-sitter JavaScript tree. Block-scoped declarations (let, const,
// class) are treated as visible in the whole enclosing function.
type treeSitterAnalyzer struct {
	mu     sync.Mutex
	parser treesitter.Parser
}

// NewTreeSitterAnalyzer returns an analyzer backed by tree-sitter, or an
// error when no backend is available in this build.
func NewTreeSitterAnalyzer() (Analyzer, error) {
	backend, err := treesitter.NewBackendFromEnv()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNoBackend, err)
	}
	defer backend.Close()
	parser, err := backend.NewParser(treesitter.JavaScript)
	if err != nil {
		return nil, err
	}
	return &treeSitterAnalyzer{parser: parser}, nil
}

func (a *treeSitterAnalyzer) Name() string { return AnalyzerTreeSitter }

func (a *treeSitterAnalyzer) AssignedGlobals(source []byte) ([]string, error) {
	a.mu.Lock()
	tree, err := a.parser.Parse(context.Background(), source)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if tree.HasError() {
		pe := &ParseError{Line: 1, Column: 1, Msg: "syntax error"}
		if bad := treesitter.FirstError(root); bad != nil {
			pt := bad.StartPoint()
			pe.Line, pe.Column = int(pt.Row)+1, int(pt.Column)+1
			if bad.IsMissing() {
				pe.Msg = "missing " + bad.Type()
			} else {
				pe.Msg = "unexpected " + quoteSnippet(bad.Content(source))
			}
		}
		return nil, pe
	}

	r := &resolver{src: source}
	global := &scope{names: map[string]bool{}}
	r.visit(root, global)

	seen := make(map[string]bool)
	var out []string
	for _, w := range r.writes {
		if seen[w.name] || w.scope.declares(w.name) {
			continue
		}
		seen[w.name] = true
		out = append(out, w.name)
	}
	slices.Sort(out)
	return out, nil
}

func quoteSnippet(s string) string {
	if len(s) > 20 {
		s = s[:20] + "..."
	}
	return fmt.Sprintf("%q", s)
}

type scope struct {
	parent *scope
	names  map[string]bool
}

func (s *scope) child() *scope {
	return &scope{parent: s, names: map[string]bool{}}
}

func (s *scope) declares(name string) bool {
	for ; s != nil; s = s.parent {
		if s.names[name] {
			return true
		}
	}
	return false
}

type write struct {
	name  string
	scope *scope
}

// resolver records declarations per scope and writes with the scope they
// occur in. Writes are resolved after the walk so hoisting falls out.
type resolver struct {
	src    []byte
	writes []write
}

func (r *resolver) declare(s *scope, pattern treesitter.Node) {
	for _, name := range r.patternNames(pattern) {
		s.names[name] = true
	}
}

func (r *resolver) assign(s *scope, target treesitter.Node) {
	for _, name := range r.patternNames(target) {
		r.writes = append(r.writes, write{name, s})
	}
}

// patternNames returns the identifiers bound by a binding or assignment
// target. Member expressions bind nothing.
func (r *resolver) patternNames(n treesitter.Node) []string {
	if n == nil || n.IsNull() {
		return nil
	}
	switch n.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		return []string{n.Content(r.src)}
	case "pair_pattern":
		return r.patternNames(n.ChildByFieldName("value"))
	case "assignment_pattern", "object_assignment_pattern":
		return r.patternNames(n.ChildByFieldName("left"))
	case "object_pattern", "array_pattern", "rest_pattern", "formal_parameters", "parenthesized_expression":
		var out []string
		for _, c := range treesitter.NamedChildren(n) {
			out = append(out, r.patternNames(c)...)
		}
		return out
	}
	return nil
}

func (r *resolver) visitField(n treesitter.Node, field string, s *scope) {
	if c := n.ChildByFieldName(field); c != nil {
		r.visit(c, s)
	}
}

func (r *resolver) function(n treesitter.Node, s *scope, ownName bool) {
	fs := s.child()
	if ownName {
		r.declare(fs, n.ChildByFieldName("name"))
	}
	r.declare(fs, n.ChildByFieldName("parameters"))
	r.declare(fs, n.ChildByFieldName("parameter"))
	// Default parameter values run in the function scope.
	if params := n.ChildByFieldName("parameters"); params != nil {
		for _, p := range treesitter.NamedChildren(params) {
			if p.Type() == "assignment_pattern" {
				r.visitField(p, "right", fs)
			}
		}
	}
	r.visitField(n, "body", fs)
}

func (r *resolver) visit(n treesitter.Node, s *scope) {
	switch n.Type() {
	case "function_declaration", "generator_function_declaration":
		r.declare(s, n.ChildByFieldName("name"))
		r.function(n, s, false)
		return
	case "function", "function_expression", "generator_function":
		r.function(n, s, true)
		return
	case "arrow_function", "method_definition":
		r.function(n, s, false)
		return
	case "class_declaration":
		r.declare(s, n.ChildByFieldName("name"))
		r.visitField(n, "body", s)
		return
	case "variable_declarator":
		r.declare(s, n.ChildByFieldName("name"))
		r.visitField(n, "value", s)
		return
	case "catch_clause":
		r.declare(s, n.ChildByFieldName("parameter"))
		r.visitField(n, "body", s)
		return
	case "assignment_expression", "augmented_assignment_expression":
		left := n.ChildByFieldName("left")
		r.assign(s, left)
		if left != nil && left.Type() == "member_expression" {
			r.visit(left, s)
		}
		r.visitField(n, "right", s)
		return
	case "update_expression":
		arg := n.ChildByFieldName("argument")
		if arg != nil && arg.Type() == "identifier" {
			r.assign(s, arg)
			return
		}
	case "for_in_statement":
		left := n.ChildByFieldName("left")
		if n.ChildByFieldName("kind") != nil {
			r.declare(s, left)
		} else if left != nil && left.Type() != "variable_declaration" && left.Type() != "lexical_declaration" {
			r.assign(s, left)
		} else if left != nil {
			r.visit(left, s)
		}
		r.visitField(n, "right", s)
		r.visitField(n, "body", s)
		return
	}
	for _, c := range treesitter.NamedChildren(n) {
		r.visit(c, s)
	}
}
