package unit

import (
	"errors"
	"fmt"
	"slices"

	"github.com/albertocavalcante/forge/pkg/archinfo"
	"github.com/albertocavalcante/forge/pkg/changeset"
)

// Package is a named collection of units. Apps have an empty name.
type Package struct {
	Name    string
	Version string

	// Dir is the source directory.
	Dir string

	units    []*Unit
	defaults map[string][]string
	tests    map[string][]string
}

// NewPackage creates an empty package.
func NewPackage(name string) *Package {
	return &Package{
		Name:     name,
		defaults: make(map[string][]string),
		tests:    make(map[string][]string),
	}
}

// AddUnit adds u to the package and assigns its ID.
func (p *Package) AddUnit(u *Unit) {
	u.pkg = p
	u.assignID()
	p.units = append(p.units, u)
}

// Units returns every unit in declaration order.
func (p *Package) Units() []*Unit {
	return p.units
}

// Plugins returns the plugin units.
func (p *Package) Plugins() []*Unit {
	var out []*Unit
	for _, u := range p.units {
		if u.Kind() == KindPlugin {
			out = append(out, u)
		}
	}
	return out
}

// SetDefaultUnits sets the unit names an edge without a unit name
// resolves to at arch.
func (p *Package) SetDefaultUnits(arch string, names []string) {
	p.defaults[arch] = names
}

// SetTestUnits sets the test unit names at arch.
func (p *Package) SetTestUnits(arch string, names []string) {
	p.tests[arch] = names
}

// DefaultUnitNames returns the declared default names per arch.
func (p *Package) DefaultUnitNames() map[string][]string { return p.defaults }

// TestUnitNames returns the declared test unit names per arch.
func (p *Package) TestUnitNames() map[string][]string { return p.tests }

// Unit returns the unit called name whose arch is the most specific match
// for arch.
func (p *Package) Unit(name, arch string) (*Unit, error) {
	var archs []string
	for _, u := range p.units {
		if u.Name() == name {
			archs = append(archs, u.Arch())
		}
	}
	best, err := archinfo.MostSpecificMatch(arch, archs)
	if err != nil {
		return nil, fmt.Errorf("package %s unit %s: %w", p.displayName(), name, err)
	}
	for _, u := range p.units {
		if u.Name() == name && u.Arch() == best {
			return u, nil
		}
	}
	panic("unreachable")
}

// DefaultUnits returns the default units at arch. Without declared
// defaults every non-test unit name is a default. Names with no unit
// compatible with arch are skipped; if none remain the result is an
// archinfo.ErrNoCompatibleArch error.
func (p *Package) DefaultUnits(arch string) ([]*Unit, error) {
	names, ok := namesFor(p.defaults, arch)
	if !ok {
		for _, u := range p.units {
			if !u.IsTest() && !slices.Contains(names, u.Name()) {
				names = append(names, u.Name())
			}
		}
	}
	return p.resolveNames(names, arch)
}

// TestUnits returns the test units at arch.
func (p *Package) TestUnits(arch string) ([]*Unit, error) {
	names, ok := namesFor(p.tests, arch)
	if !ok {
		for _, u := range p.units {
			if u.IsTest() && !slices.Contains(names, u.Name()) {
				names = append(names, u.Name())
			}
		}
	}
	return p.resolveNames(names, arch)
}

// Resolve returns the units an edge refers to at arch.
func (p *Package) Resolve(e Edge, arch string) ([]*Unit, error) {
	if e.Unit == "" {
		return p.DefaultUnits(arch)
	}
	u, err := p.Unit(e.Unit, arch)
	if err != nil {
		return nil, err
	}
	return []*Unit{u}, nil
}

// ChangeSet merges the change sets of every unit.
func (p *Package) ChangeSet() *changeset.ChangeSet {
	cs := changeset.New()
	for _, u := range p.units {
		cs.Merge(u.ChangeSet)
	}
	return cs
}

func (p *Package) resolveNames(names []string, arch string) ([]*Unit, error) {
	var out []*Unit
	for _, name := range names {
		u, err := p.Unit(name, arch)
		if errors.Is(err, archinfo.ErrNoCompatibleArch) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("package %s: %w: no unit for %s", p.displayName(), archinfo.ErrNoCompatibleArch, arch)
	}
	return out, nil
}

func (p *Package) displayName() string {
	if p.Name == "" {
		return "(app)"
	}
	return p.Name
}

// namesFor picks the entry whose arch key is the most specific match.
func namesFor(m map[string][]string, arch string) ([]string, bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	best, err := archinfo.MostSpecificMatch(arch, keys)
	if err != nil {
		return nil, false
	}
	return slices.Clone(m[best]), true
}
