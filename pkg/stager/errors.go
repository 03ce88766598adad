package stager

import (
	"errors"
	"fmt"
)

var (
	ErrPathConflict  = errors.New("path conflict")
	ErrPathTraversal = errors.New("path traversal")
	ErrFinished      = errors.New("stager already finished")
	ErrRenameFailed  = errors.New("rename failed")
)

// PathError reports a rejected staging path.
type PathError struct {
	Kind error
	Path string
	Msg  string
}

func (e *PathError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Path)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind.Error(), e.Path, e.Msg)
}

func (e *PathError) Unwrap() error { return e.Kind }

func conflictf(path, format string, args ...any) error {
	return &PathError{Kind: ErrPathConflict, Path: path, Msg: fmt.Sprintf(format, args...)}
}

func traversalf(path, format string, args ...any) error {
	return &PathError{Kind: ErrPathTraversal, Path: path, Msg: fmt.Sprintf(format, args...)}
}
