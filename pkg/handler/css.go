package handler

import (
	"github.com/albertocavalcante/forge/pkg/archinfo"
	"github.com/albertocavalcante/forge/pkg/treesitter"
)

// CSS turns stylesheets into browser resources. Server units ignore them.
// When a tree-sitter backend is available the stylesheet is parsed first
// and a file with syntax errors is dropped.
type CSS struct {
	parser *lazyParser
}

func NewCSS() Handler { return &CSS{parser: newLazyParser(treesitter.CSS)} }

func (*CSS) Name() string         { return "css" }
func (*CSS) Extensions() []string { return []string{"css"} }

func (h *CSS) Compile(in Input) Output {
	var out Output
	if !archinfo.IsBrowser(in.Arch) {
		return out
	}
	if tree, err := h.parser.parse(in.Source); err == nil {
		defer tree.Close()
		if tree.HasError() {
			line, col := 1, 1
			if bad := treesitter.FirstError(tree.RootNode()); bad != nil {
				line, col = nodePosition(bad)
			}
			out.Errorf(line, col, "CSS syntax error")
			return out
		}
	}
	out.Resources = append(out.Resources, Resource{Type: TypeCSS, Data: in.Source, ServePath: in.ServePath})
	return out
}
