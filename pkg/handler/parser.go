package handler

import (
	"context"
	"sync"

	"github.com/albertocavalcante/forge/pkg/treesitter"
)

// lazyParser creates a tree-sitter parser on first use. When no backend is
// available, parse reports the construction error every time and callers
// fall back to scanning by hand.
type lazyParser struct {
	lang treesitter.Language

	once   sync.Once
	mu     sync.Mutex
	parser treesitter.Parser
	err    error
}

func newLazyParser(lang treesitter.Language) *lazyParser {
	return &lazyParser{lang: lang}
}

func (p *lazyParser) init() {
	backend, err := treesitter.NewBackendFromEnv()
	if err != nil {
		p.err = err
		return
	}
	defer backend.Close()
	p.parser, p.err = backend.NewParser(p.lang)
}

func (p *lazyParser) parse(src []byte) (treesitter.Tree, error) {
	p.once.Do(p.init)
	if p.err != nil {
		return nil, p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parser.Parse(context.Background(), src)
}

func nodePosition(n treesitter.Node) (int, int) {
	pt := n.StartPoint()
	return int(pt.Row) + 1, int(pt.Column) + 1
}
