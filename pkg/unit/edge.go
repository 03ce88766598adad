package unit

import (
	"strings"
)

// Edge is a dependency or implies edge to a package, or to one named unit
// of a package.
type Edge struct {
	Package string `json:"package"`
	Unit    string `json:"unit,omitempty"`

	// Constraint is a version constraint. It is carried, not interpreted.
	Constraint string `json:"constraint,omitempty"`

	// Unordered targets need not load first, and their symbols are not
	// imported.
	Unordered bool `json:"unordered,omitempty"`

	// Weak targets need not exist but load first if present. Their
	// symbols are not imported and their plugins are not used.
	Weak bool `json:"weak,omitempty"`
}

// ParseSpec splits "pkg" or "pkg.unit".
func ParseSpec(spec string) (pkg, unitName string, err error) {
	parts := strings.Split(spec, ".")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return parts[0], "", nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return parts[0], parts[1], nil
	}
	return "", "", errorf(ErrInvalidEdge, "parse", spec, "want package or package.unit")
}

// NewEdge creates a dependency edge. An edge cannot be both unordered and
// weak.
func NewEdge(spec string, unordered, weak bool) (Edge, error) {
	pkg, name, err := ParseSpec(spec)
	if err != nil {
		return Edge{}, err
	}
	e := Edge{Package: pkg, Unit: name, Unordered: unordered, Weak: weak}
	return e, e.Validate()
}

// NewImplies creates an implies edge, which is always ordered and strong.
func NewImplies(spec string) (Edge, error) {
	return NewEdge(spec, false, false)
}

// Validate checks the edge invariants.
func (e Edge) Validate() error {
	if e.Package == "" || strings.Contains(e.Package, ".") || strings.Contains(e.Unit, ".") {
		return errorf(ErrInvalidEdge, "validate", e.Spec(), "malformed target")
	}
	if e.Unordered && e.Weak {
		return errorf(ErrInvalidEdge, "validate", e.Spec(), "an edge cannot be both unordered and weak")
	}
	return nil
}

// Spec returns "pkg" or "pkg.unit".
func (e Edge) Spec() string {
	if e.Unit == "" {
		return e.Package
	}
	return e.Package + "." + e.Unit
}

// MergeEdges drops repeated targets, keeping the last occurrence at its
// position.
func MergeEdges(edges []Edge) []Edge {
	last := make(map[string]int, len(edges))
	for i, e := range edges {
		last[e.Spec()] = i
	}
	out := make([]Edge, 0, len(last))
	for i, e := range edges {
		if last[e.Spec()] == i {
			out = append(out, e)
		}
	}
	return out
}
