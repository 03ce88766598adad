package handler

import (
	"github.com/albertocavalcante/forge/pkg/util"
)

type claim struct {
	handler Handler
	owner   string
}

// ActiveSet maps extensions to the handlers applying to one unit build.
type ActiveSet struct {
	byExt map[string]claim
}

// NewActiveSet returns an empty set.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{byExt: make(map[string]claim)}
}

// Add claims ext for h on behalf of owner (a package name, or "" for
// built-ins). Re-adding the same handler name from the same owner is a
// no-op. Any other second claim leaves the first in place and returns a
// *ConflictError.
func (s *ActiveSet) Add(ext string, h Handler, owner string) error {
	if prev, ok := s.byExt[ext]; ok {
		if prev.handler.Name() == h.Name() && prev.owner == owner {
			return nil
		}
		return &ConflictError{Extension: ext, First: describe(prev.handler, prev.owner), Second: describe(h, owner)}
	}
	s.byExt[ext] = claim{handler: h, owner: owner}
	return nil
}

// AddDefaults claims every extension h lists.
func (s *ActiveSet) AddDefaults(h Handler, owner string) []error {
	var errs []error
	for _, ext := range h.Extensions() {
		if err := s.Add(ext, h, owner); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Lookup returns the handler for path, trying the longest extension
// first.
func (s *ActiveSet) Lookup(path string) (Handler, string, bool) {
	for _, ext := range Extension(path) {
		if c, ok := s.byExt[ext]; ok {
			return c.handler, ext, true
		}
	}
	return nil, "", false
}

// Extensions returns the claimed extensions, sorted.
func (s *ActiveSet) Extensions() []string {
	return util.SortedKeys(s.byExt)
}

func describe(h Handler, owner string) string {
	if owner == "" {
		return h.Name()
	}
	return h.Name() + " (from " + owner + ")"
}
