package unit

import (
	"errors"
	"fmt"
)

var (
	ErrUnresolvedDependency = errors.New("unresolved dependency")
	ErrInvalidEdge          = errors.New("invalid edge")
	ErrUnknownPackage       = errors.New("unknown package")
	ErrNotBuilt             = errors.New("unit not built")
	ErrAlreadyBuilt         = errors.New("unit already built")
)

// Error reports a failed operation on a unit or edge.
type Error struct {
	Kind error
	Op   string

	// Path is the unit ID or edge spec involved.
	Path string
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := e.Kind.Error()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Path != "" {
		s += ": " + e.Path
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *Error) Unwrap() error { return e.Kind }

func errorf(kind error, op, path, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Path: path, Msg: fmt.Sprintf(format, args...)}
}
