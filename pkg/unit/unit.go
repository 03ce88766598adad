// Package unit models compilation units and the packages that own them,
// the dependency traversal over their edges, and the Phase 2 link that
// turns a built unit into bundle resources.
//
// A unit moves from unbuilt to built exactly once (Complete). Phase 2
// (Resources) can then run any number of times, once per bundle
// architecture, without changing the unit.
package unit

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/albertocavalcante/forge/pkg/changeset"
	"github.com/albertocavalcante/forge/pkg/handler"
	"github.com/albertocavalcante/forge/pkg/linker"
)

// Kind distinguishes ordinary units from plugins and apps.
type Kind string

const (
	KindMain   Kind = "main"
	KindPlugin Kind = "plugin"
	KindApp    Kind = "app"
)

// Visibility limits which units import an export.
type Visibility string

const (
	Always    Visibility = ""
	TestOnly  Visibility = "tests"
	DebugOnly Visibility = "debug"
)

// Export is a symbol a unit offers to the units that use it.
type Export struct {
	Name       string     `json:"name"`
	Visibility Visibility `json:"visibility,omitempty"`
}

// Variable is a package-scope variable of a built unit. Exported
// variables are the unit's exports.
type Variable struct {
	Name       string     `json:"name"`
	Export     bool       `json:"export,omitempty"`
	Visibility Visibility `json:"visibility,omitempty"`
}

// Phase1 is the output of compiling and prelinking a unit.
type Phase1 struct {
	PrelinkFiles []linker.OutputFile
	Variables    []Variable

	// Resources are static assets, stylesheets and head/body markup, in
	// source order.
	Resources []handler.Resource
}

// Options describes a unit to create.
type Options struct {
	Name string
	Kind Kind
	Arch string

	// Test marks units that hold a package's tests.
	Test bool

	Uses    []Edge
	Implies []Edge

	// Sources are slash-separated paths or glob patterns relative to the
	// package directory.
	Sources []string

	// Exports are forced exports declared in the manifest.
	Exports []Export

	// Handlers maps extensions to registry handler names. Only plugin
	// units provide handlers.
	Handlers map[string]string

	// Options are per-file options keyed by source path.
	FileOptions map[string]map[string]any
}

var serial atomic.Uint64

// Unit is one architecture-specific edition of a package.
type Unit struct {
	id   string
	pkg  *Package
	opts Options

	// ChangeSet records the inputs the unit was built from.
	ChangeSet *changeset.ChangeSet

	phase1 *Phase1
}

// New creates an unbuilt unit. It becomes identifiable once added to a
// package.
func New(opts Options) (*Unit, error) {
	if opts.Kind == "" {
		opts.Kind = KindMain
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("unit name is required")
	}
	if opts.Arch == "" {
		return nil, fmt.Errorf("unit %s: arch is required", opts.Name)
	}
	for _, e := range slices.Concat(opts.Uses, opts.Implies) {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	for _, e := range opts.Implies {
		if e.Weak || e.Unordered {
			return nil, errorf(ErrInvalidEdge, "new", e.Spec(), "implies edges are always ordered and strong")
		}
	}
	return &Unit{opts: opts, ChangeSet: changeset.New()}, nil
}

// ID is "<package>.<unit>@<arch>#<serial>". Serials are never reused.
func (u *Unit) ID() string { return u.id }

func (u *Unit) Name() string                { return u.opts.Name }
func (u *Unit) Kind() Kind                  { return u.opts.Kind }
func (u *Unit) Arch() string                { return u.opts.Arch }
func (u *Unit) IsTest() bool                { return u.opts.Test }
func (u *Unit) Uses() []Edge                { return u.opts.Uses }
func (u *Unit) Implies() []Edge             { return u.opts.Implies }
func (u *Unit) Sources() []string           { return u.opts.Sources }
func (u *Unit) ForcedExports() []Export     { return u.opts.Exports }
func (u *Unit) Handlers() map[string]string { return u.opts.Handlers }

// FileOptions returns the per-file options of path, or nil.
func (u *Unit) FileOptions(path string) map[string]any {
	return u.opts.FileOptions[path]
}

// Options returns a copy of the options the unit was created with.
func (u *Unit) Options() Options { return u.opts }

// Package returns the owning package, or nil before AddUnit.
func (u *Unit) Package() *Package { return u.pkg }

// PackageName returns the owning package name, empty for apps.
func (u *Unit) PackageName() string {
	if u.pkg == nil {
		return ""
	}
	return u.pkg.Name
}

// Built reports whether Phase 1 has completed.
func (u *Unit) Built() bool { return u.phase1 != nil }

// Phase1 returns the Phase 1 output, or nil when unbuilt.
func (u *Unit) Phase1() *Phase1 { return u.phase1 }

// Complete records the Phase 1 output. It can be called only once.
func (u *Unit) Complete(p Phase1) error {
	if u.phase1 != nil {
		return errorf(ErrAlreadyBuilt, "complete", u.id, "")
	}
	u.phase1 = &p
	return nil
}

// Exports returns the exported package variables of a built unit.
func (u *Unit) Exports() []Export {
	if u.phase1 == nil {
		return nil
	}
	var out []Export
	for _, v := range u.phase1.Variables {
		if v.Export {
			out = append(out, Export{Name: v.Name, Visibility: v.Visibility})
		}
	}
	return out
}

func (u *Unit) String() string {
	if u.id != "" {
		return u.id
	}
	return u.opts.Name + "@" + u.opts.Arch
}

func (u *Unit) assignID() {
	name := "(app)"
	if u.pkg != nil && u.pkg.Name != "" {
		name = u.pkg.Name
	}
	u.id = fmt.Sprintf("%s.%s@%s#%d", name, u.opts.Name, u.opts.Arch, serial.Add(1))
}
