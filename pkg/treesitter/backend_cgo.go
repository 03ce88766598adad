//go:build cgo

package treesitter

import (
	"context"
	"fmt"
	"slices"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/html"
	"github.com/smacker/go-tree-sitter/javascript"
)

// cgoBackend implements Backend with smacker/go-tree-sitter.
type cgoBackend struct {
	mu     sync.RWMutex
	closed bool
}

// NewCGOBackend creates the cgo backend.
func NewCGOBackend() (Backend, error) {
	return &cgoBackend{}, nil
}

func (b *cgoBackend) Name() string {
	return "cgo"
}

func (b *cgoBackend) SupportsLanguage(lang Language) bool {
	return slices.Contains(AllLanguages(), lang)
}

func (b *cgoBackend) NewParser(lang Language) (Parser, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrBackendClosed{Backend: b.Name()}
	}

	var grammar *sitter.Language
	switch lang {
	case JavaScript:
		grammar = javascript.GetLanguage()
	case HTML:
		grammar = html.GetLanguage()
	case CSS:
		grammar = css.GetLanguage()
	default:
		return nil, ErrLanguageNotSupported{Language: lang, Backend: b.Name()}
	}

	parser := sitter.NewParser()
	parser.SetLanguage(grammar)
	return &cgoParser{parser: parser, lang: lang}, nil
}

func (b *cgoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type cgoParser struct {
	mu     sync.Mutex
	parser *sitter.Parser
	lang   Language
	closed bool
}

func (p *cgoParser) Language() Language {
	return p.lang
}

func (p *cgoParser) Parse(ctx context.Context, source []byte) (Tree, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrParserClosed{}
	}

	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return &cgoTree{tree: tree, source: source}, nil
}

func (p *cgoParser) ParseString(ctx context.Context, source string) (Tree, error) {
	return p.Parse(ctx, []byte(source))
}

func (p *cgoParser) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.parser.Close()
	return nil
}

type cgoTree struct {
	tree   *sitter.Tree
	source []byte
}

func (t *cgoTree) RootNode() Node {
	return wrap(t.tree.RootNode())
}

func (t *cgoTree) Source() []byte {
	return t.source
}

func (t *cgoTree) HasError() bool {
	root := t.tree.RootNode()
	return root != nil && root.HasError()
}

func (t *cgoTree) Close() error {
	t.tree.Close()
	return nil
}

// cgoNode implements Node. A nil *sitter.Node is never wrapped.
type cgoNode struct {
	node *sitter.Node
}

func wrap(n *sitter.Node) Node {
	if n == nil {
		return nil
	}
	return &cgoNode{node: n}
}

func (n *cgoNode) Type() string      { return n.node.Type() }
func (n *cgoNode) StartByte() uint32 { return n.node.StartByte() }
func (n *cgoNode) EndByte() uint32   { return n.node.EndByte() }

func (n *cgoNode) StartPoint() Point {
	p := n.node.StartPoint()
	return Point{Row: p.Row, Column: p.Column}
}

func (n *cgoNode) Content(source []byte) string { return n.node.Content(source) }
func (n *cgoNode) ChildCount() uint32           { return n.node.ChildCount() }
func (n *cgoNode) Child(i uint32) Node          { return wrap(n.node.Child(int(i))) }
func (n *cgoNode) NamedChildCount() uint32      { return n.node.NamedChildCount() }
func (n *cgoNode) NamedChild(i uint32) Node     { return wrap(n.node.NamedChild(int(i))) }

func (n *cgoNode) ChildByFieldName(name string) Node {
	return wrap(n.node.ChildByFieldName(name))
}

func (n *cgoNode) Parent() Node    { return wrap(n.node.Parent()) }
func (n *cgoNode) IsNamed() bool   { return n.node.IsNamed() }
func (n *cgoNode) IsError() bool   { return n.node.IsError() }
func (n *cgoNode) IsMissing() bool { return n.node.IsMissing() }
func (n *cgoNode) IsNull() bool    { return n.node.IsNull() }
