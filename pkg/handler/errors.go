package handler

import (
	"errors"
	"fmt"
)

var ErrHandlerConflict = errors.New("handler conflict")

// ConflictError reports two handlers claiming one extension.
type ConflictError struct {
	Extension string
	First     string
	Second    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: extension %q is claimed by both %s and %s", ErrHandlerConflict, e.Extension, e.First, e.Second)
}

func (e *ConflictError) Unwrap() error { return ErrHandlerConflict }
