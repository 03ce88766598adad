//go:build cgo

package handler

import (
	"testing"

	"github.com/albertocavalcante/forge/pkg/treesitter"
)

func TestCSSSyntaxError(t *testing.T) {
	if !treesitter.Available() {
		t.Skip("tree-sitter unavailable")
	}
	out := NewCSS().Compile(Input{Source: []byte("a { color: red;\n"), Arch: "web.browser"})
	if len(out.Errors) != 1 {
		t.Fatalf("errors = %+v, want one", out.Errors)
	}
	if len(out.Resources) != 0 {
		t.Error("broken stylesheet was kept")
	}
}
