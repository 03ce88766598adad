//go:build !cgo

package treesitter

import "errors"

// ErrCGODisabled is returned when the binary was built without cgo.
var ErrCGODisabled = errors.New("tree-sitter backend requires cgo (build with CGO_ENABLED=1)")

// NewCGOBackend reports ErrCGODisabled.
func NewCGOBackend() (Backend, error) {
	return nil, ErrCGODisabled
}
