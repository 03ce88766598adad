package buildcache

import (
	"errors"
	"fmt"

	"github.com/albertocavalcante/forge/pkg/unit"
)

var (
	ErrMalformedArtifact = errors.New("malformed artifact")

	// ErrUnknownPackage is unit.ErrUnknownPackage, so that weak edges to
	// packages missing from the catalog are skipped during traversal.
	ErrUnknownPackage = unit.ErrUnknownPackage
)

// Error reports a failed cache operation.
type Error struct {
	Kind error
	Op   string
	Path string
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := e.Op + ": " + e.Kind.Error()
	if e.Path != "" {
		s += ": " + e.Path
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *Error) Unwrap() error { return e.Kind }

func malformedf(path, format string, args ...any) error {
	return &Error{Kind: ErrMalformedArtifact, Op: "load", Path: path, Msg: fmt.Sprintf(format, args...)}
}
