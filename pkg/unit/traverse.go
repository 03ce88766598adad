package unit

import (
	"errors"
	"fmt"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// Loader finds packages by name. It returns an error wrapping
// ErrUnknownPackage for names it does not know.
type Loader interface {
	Package(name string) (*Package, error)
}

// MapLoader is a Loader over a fixed set of packages.
type MapLoader map[string]*Package

func (m MapLoader) Package(name string) (*Package, error) {
	if p, ok := m[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPackage, name)
}

// TraverseOptions filters the start unit's own edges. Implies edges are
// always followed.
type TraverseOptions struct {
	SkipWeak      bool
	SkipUnordered bool

	// AcceptableWeak lets weak edges to these packages through when
	// SkipWeak is set.
	AcceptableWeak map[string]bool
}

// EdgeInfo describes the edge a unit was reached through.
type EdgeInfo struct {
	Unordered bool
	Weak      bool
}

// EachUsed calls visit for every unit reachable from u's dependency edges
// at arch, then through the implies edges of each visited unit. Each unit
// is visited once. Edges are processed first in, first out, in
// declaration order, so a unit's implied units are visited after it.
//
// A weak edge to an unknown package is skipped. Any other edge that does
// not resolve fails with ErrUnresolvedDependency. An error returned by
// visit stops the traversal.
func (u *Unit) EachUsed(loader Loader, arch string, opts TraverseOptions, visit func(*Unit, EdgeInfo) error) error {
	q := linkedlistqueue.New()
	for _, e := range u.Uses() {
		if opts.SkipUnordered && e.Unordered {
			continue
		}
		if opts.SkipWeak && e.Weak && !opts.AcceptableWeak[e.Package] {
			continue
		}
		q.Enqueue(e)
	}

	visited := make(map[string]bool)
	for !q.Empty() {
		v, _ := q.Dequeue()
		e := v.(Edge)

		pkg, err := loader.Package(e.Package)
		if err != nil {
			if e.Weak && errors.Is(err, ErrUnknownPackage) {
				continue
			}
			return &Error{Kind: ErrUnresolvedDependency, Op: "traverse", Path: e.Spec(), Msg: err.Error()}
		}
		units, err := pkg.Resolve(e, arch)
		if err != nil {
			return &Error{Kind: ErrUnresolvedDependency, Op: "traverse", Path: e.Spec(), Msg: err.Error()}
		}
		for _, used := range units {
			if visited[used.ID()] {
				continue
			}
			visited[used.ID()] = true
			if err := visit(used, EdgeInfo{Unordered: e.Unordered, Weak: e.Weak}); err != nil {
				return err
			}
			for _, implied := range used.Implies() {
				q.Enqueue(implied)
			}
		}
	}
	return nil
}
