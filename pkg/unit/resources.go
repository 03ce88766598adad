package unit

import (
	"fmt"

	"github.com/albertocavalcante/forge/internal/log"
	"github.com/albertocavalcante/forge/pkg/archinfo"
	"github.com/albertocavalcante/forge/pkg/handler"
	"github.com/albertocavalcante/forge/pkg/linker"
)

// ResourceOptions configures Resources.
type ResourceOptions struct {
	// Debug keeps debug-only exports in the imports.
	Debug bool
}

// Imports returns symbol -> package for every export u can see at arch.
// Weak and unordered edges contribute nothing. When two packages export
// the same symbol the later-visited one wins.
func (u *Unit) Imports(loader Loader, arch string, opts ResourceOptions) (map[string]string, error) {
	logger := log.Component("unit")
	imports := make(map[string]string)
	err := u.EachUsed(loader, arch, TraverseOptions{SkipWeak: true, SkipUnordered: true}, func(used *Unit, _ EdgeInfo) error {
		if !used.Built() {
			return errorf(ErrNotBuilt, "imports", used.ID(), "used by %s", u)
		}
		for _, exp := range used.Exports() {
			if exp.Visibility == TestOnly && !u.IsTest() {
				continue
			}
			if exp.Visibility == DebugOnly && !opts.Debug {
				continue
			}
			if prev, ok := imports[exp.Name]; ok && prev != used.PackageName() {
				logger.Debug("import collision", "symbol", exp.Name, "previous", prev, "package", used.PackageName(), "unit", u.ID())
			}
			imports[exp.Name] = used.PackageName()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return imports, nil
}

// Resources runs the Phase 2 link of a built unit for a bundle at
// bundleArch. The result is the unit's Phase 1 resources followed by its
// linked code. The unit itself is not modified.
func (u *Unit) Resources(loader Loader, bundleArch string, opts ResourceOptions) ([]handler.Resource, error) {
	if !u.Built() {
		return nil, errorf(ErrNotBuilt, "resources", u.ID(), "")
	}
	if !archinfo.Matches(bundleArch, u.Arch()) {
		return nil, fmt.Errorf("unit %s: %w: bundle arch %s", u, archinfo.ErrNoCompatibleArch, bundleArch)
	}

	imports, err := u.Imports(loader, bundleArch, opts)
	if err != nil {
		return nil, err
	}

	vars := make([]linker.PackageVariable, 0, len(u.phase1.Variables))
	for _, v := range u.phase1.Variables {
		vars = append(vars, linker.PackageVariable{Name: v.Name, Export: v.Export})
	}
	browser := archinfo.IsBrowser(bundleArch)
	files, err := linker.Link(linker.LinkOptions{
		Name:                         u.PackageName(),
		Imports:                      imports,
		PackageVariables:             vars,
		UseGlobalNamespace:           u.Kind() == KindApp,
		PrelinkFiles:                 u.phase1.PrelinkFiles,
		IncludeSourceMapInstructions: browser,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to link %s: %w", u, err)
	}

	out := make([]handler.Resource, 0, len(u.phase1.Resources)+len(files))
	out = append(out, u.phase1.Resources...)
	for _, f := range files {
		r := handler.Resource{Type: handler.TypeJS, Data: []byte(f.Source), ServePath: f.ServePath}
		if browser {
			r.SourceMap = f.SourceMap
		}
		out = append(out, r)
	}
	return out, nil
}
