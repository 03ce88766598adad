package treesitter

import (
	"fmt"
	"os"
	"strings"
)

// BackendType selects a backend implementation.
type BackendType string

const (
	// BackendAuto uses cgo when available.
	BackendAuto BackendType = "auto"

	// BackendCGO requires the cgo backend.
	BackendCGO BackendType = "cgo"

	// BackendNone disables tree-sitter; NewBackend always fails.
	BackendNone BackendType = "none"
)

// EnvVarBackend selects the backend for NewBackendFromEnv.
const EnvVarBackend = "FORGE_TREESITTER_BACKEND"

// ErrDisabled is returned for BackendNone.
var ErrDisabled = fmt.Errorf("tree-sitter disabled by %s=none", EnvVarBackend)

// NewBackend creates a backend of the given type.
func NewBackend(typ BackendType) (Backend, error) {
	switch typ {
	case BackendAuto, BackendCGO:
		return NewCGOBackend()
	case BackendNone:
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown backend type: %s", typ)
	}
}

// NewBackendFromEnv creates the backend named by FORGE_TREESITTER_BACKEND,
// defaulting to BackendAuto.
func NewBackendFromEnv() (Backend, error) {
	val := strings.TrimSpace(os.Getenv(EnvVarBackend))
	if val == "" {
		return NewBackend(BackendAuto)
	}
	typ := BackendType(strings.ToLower(val))
	switch typ {
	case BackendAuto, BackendCGO, BackendNone:
		return NewBackend(typ)
	default:
		return nil, fmt.Errorf("invalid %s value %q: must be one of auto, cgo, none", EnvVarBackend, val)
	}
}

// Available reports whether a backend can be created in this build.
func Available() bool {
	b, err := NewCGOBackend()
	if err != nil {
		return false
	}
	_ = b.Close()
	return true
}
