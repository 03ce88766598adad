// Package compiler loads packages from source and runs Phase 1 on their
// units: routing each source file to an extension handler, collecting
// resources, and prelinking the code.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/albertocavalcante/forge/internal/log"
	"github.com/albertocavalcante/forge/pkg/archinfo"
	"github.com/albertocavalcante/forge/pkg/buildmsg"
	"github.com/albertocavalcante/forge/pkg/changeset"
	"github.com/albertocavalcante/forge/pkg/config"
	"github.com/albertocavalcante/forge/pkg/handler"
	"github.com/albertocavalcante/forge/pkg/linker"
	"github.com/albertocavalcante/forge/pkg/registry"
	"github.com/albertocavalcante/forge/pkg/unit"
	"github.com/albertocavalcante/forge/pkg/util"
	"github.com/albertocavalcante/forge/pkg/watch"
)

// Compiler builds packages found through a SourceCatalog. It holds no
// per-build state and may be shared.
type Compiler struct {
	catalog  SourceCatalog
	linker   *linker.Linker
	handlers []handler.Handler
	arches   []string
	log      *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLinker sets the linker used for Phase 1.
func WithLinker(l *linker.Linker) Option {
	return func(c *Compiler) { c.linker = l }
}

// WithHandlers sets the default handlers, active in every unit.
func WithHandlers(hs ...handler.Handler) Option {
	return func(c *Compiler) { c.handlers = hs }
}

// WithArches sets the arches apps are built for.
func WithArches(arches ...string) Option {
	return func(c *Compiler) { c.arches = arches }
}

// New creates a Compiler. By default it uses every built-in handler and
// builds apps for the host and the browser.
func New(catalog SourceCatalog, opts ...Option) (*Compiler, error) {
	c := &Compiler{
		catalog: catalog,
		arches:  []string{archinfo.Host(), archinfo.Browser},
		log:     log.Component("compiler"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.linker == nil {
		l, err := linker.New()
		if err != nil {
			return nil, err
		}
		c.linker = l
	}
	if c.handlers == nil {
		c.handlers = registry.LoadHandlers(config.NewConfig())
	}
	return c, nil
}

// NewFromConfig creates a Compiler with the handlers, analyzer and arches
// of cfg.
func NewFromConfig(catalog SourceCatalog, cfg *config.Config) (*Compiler, error) {
	analyzer, err := linker.NewAnalyzer(cfg.Linker.Analyzer)
	if err != nil {
		return nil, err
	}
	l, err := linker.New(linker.WithAnalyzer(analyzer), linker.WithCacheSize(cfg.LinkerCacheSize()))
	if err != nil {
		return nil, err
	}
	return New(catalog,
		WithLinker(l),
		WithHandlers(registry.LoadHandlers(cfg)...),
		WithArches(cfg.Build.Arch...),
	)
}

// Catalog returns the catalog packages are found in.
func (c *Compiler) Catalog() SourceCatalog { return c.catalog }

// Build runs Phase 1 on every unit of p, plugins first. Per-file problems
// go to msgs; the returned error is fatal.
func (c *Compiler) Build(p *unit.Package, msgs *buildmsg.Messages) error {
	loader := &structureLoader{compiler: c, self: p, loaded: make(map[string]*unit.Package)}
	units := slices.Clone(p.Units())
	slices.SortStableFunc(units, func(a, b *unit.Unit) int {
		return boolRank(a.Kind() != unit.KindPlugin) - boolRank(b.Kind() != unit.KindPlugin)
	})
	for _, u := range units {
		if err := c.compileUnit(u, loader, msgs); err != nil {
			return fmt.Errorf("failed to build %s: %w", u, err)
		}
	}
	return nil
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (c *Compiler) compileUnit(u *unit.Unit, loader unit.Loader, msgs *buildmsg.Messages) error {
	p := u.Package()
	active := c.activeSet(u, loader, msgs)

	files, err := c.expandSources(u, msgs)
	if err != nil {
		return err
	}

	browser := archinfo.IsBrowser(u.Arch())
	var (
		inputs    []linker.InputFile
		resources []handler.Resource
		markers   []string
	)
	for _, rel := range files {
		abs := filepath.Join(p.Dir, filepath.FromSlash(rel))
		src, err := watch.ReadAndWatchFile(u.ChangeSet, abs)
		if err != nil {
			return err
		}
		if src == nil {
			msgs.Errorf([]buildmsg.Option{buildmsg.File(rel)}, "source file vanished")
			continue
		}
		fingerprint, _ := u.ChangeSet.Fingerprint(abs)

		h, _, ok := active.Lookup(rel)
		if !ok {
			h = handler.NewAsset()
		}
		c.log.Log(context.Background(), log.LevelTrace, "compiling", "unit", u.ID(), "file", rel, "handler", h.Name())
		out := h.Compile(handler.Input{
			Source:    src,
			Path:      rel,
			ServePath: servePath(u, rel),
			Arch:      u.Arch(),
			Package:   p.Name,
			Options:   u.FileOptions(rel),
		})
		for _, d := range out.Errors {
			msgs.Errorf([]buildmsg.Option{buildmsg.File(rel), buildmsg.Pos(d.Line, d.Column)}, "%s", d.Message)
		}
		for _, code := range out.Code {
			if code.ServePath == "" {
				code.ServePath = servePath(u, rel)
			}
			inputs = append(inputs, linker.InputFile{
				Source:     code.Source,
				ServePath:  code.ServePath,
				SourcePath: rel,
				Bare:       code.Bare,
				Hash:       fingerprint,
			})
			markers = append(markers, linker.ExportMarkers(code.Source)...)
		}
		for _, r := range out.Resources {
			switch {
			case (r.Type == handler.TypeHead || r.Type == handler.TypeBody) && !browser:
				msgs.Errorf([]buildmsg.Option{buildmsg.File(rel)}, "%s markup is only allowed in browser units", r.Type)
				continue
			case browser:
				r.Path = ""
			default:
				r.ServePath = ""
			}
			resources = append(resources, r)
		}
	}

	result, err := c.linker.Prelink(linker.PrelinkOptions{
		Name:               p.Name,
		Files:              inputs,
		UseGlobalNamespace: u.Kind() == unit.KindApp,
		CombinedServePath:  combinedServePath(u),
		Messages:           msgs,
	})
	if err != nil {
		return err
	}

	return u.Complete(unit.Phase1{
		PrelinkFiles: result.Files,
		Variables:    variables(u, result.AssignedVariables, markers),
		Resources:    resources,
	})
}

// activeSet collects the default handlers plus those of the plugin units
// of u's own package and of every package u uses at the host arch,
// including through unordered edges. Weak edges are not followed.
// Conflicts are reported and the first claim is kept.
func (c *Compiler) activeSet(u *unit.Unit, loader unit.Loader, msgs *buildmsg.Messages) *handler.ActiveSet {
	active := handler.NewActiveSet()
	for _, h := range c.handlers {
		for _, err := range active.AddDefaults(h, "") {
			msgs.Errorf(nil, "%v", err)
		}
	}

	pkgs := []*unit.Package{u.Package()}
	seen := map[*unit.Package]bool{u.Package(): true}
	err := u.EachUsed(loader, archinfo.Host(), unit.TraverseOptions{SkipWeak: true}, func(used *unit.Unit, _ unit.EdgeInfo) error {
		u.ChangeSet.Merge(used.ChangeSet)
		if p := used.Package(); !seen[p] {
			seen[p] = true
			pkgs = append(pkgs, p)
		}
		return nil
	})
	if err != nil {
		msgs.Errorf(nil, "%v", err)
	}

	for _, p := range pkgs {
		for _, plugin := range p.Plugins() {
			if !archinfo.Matches(archinfo.Host(), plugin.Arch()) {
				continue
			}
			for _, ext := range util.SortedKeys(plugin.Handlers()) {
				name := plugin.Handlers()[ext]
				h, err := registry.New(name)
				if err != nil {
					msgs.Errorf(nil, "plugin %s: %v", plugin, err)
					continue
				}
				if err := active.Add(strings.TrimPrefix(ext, "."), h, p.Name); err != nil {
					msgs.Errorf(nil, "%v", err)
				}
			}
		}
	}
	return active
}

// expandSources resolves the unit's source patterns against its package
// directory and records the directory listing in the unit's ChangeSet.
func (c *Compiler) expandSources(u *unit.Unit, msgs *buildmsg.Messages) ([]string, error) {
	dir := u.Package().Dir
	if _, err := watch.ReadAndWatchDirectory(u.ChangeSet, changeset.Directory{
		Path:      dir,
		Include:   changeset.MustCompileAll(`^[^.]`),
		Recursive: true,
	}); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	fsys := os.DirFS(dir)
	var files []string
	seen := make(map[string]bool)
	for _, pattern := range u.Sources() {
		if !doublestar.ValidatePattern(pattern) {
			msgs.Errorf(nil, "unit %s: invalid source pattern %q", u.Name(), pattern)
			continue
		}
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to expand %q: %w", pattern, err)
		}
		n := 0
		for _, m := range matches {
			if hidden(m) || slices.Contains(ManifestNames, m) || seen[m] {
				continue
			}
			seen[m] = true
			files = append(files, m)
			n++
		}
		if n == 0 && u.Kind() != unit.KindApp {
			msgs.Errorf(nil, "unit %s: source pattern %q matched no files", u.Name(), pattern)
		}
	}
	return files, nil
}

func hidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func servePath(u *unit.Unit, rel string) string {
	switch {
	case u.Kind() == unit.KindApp:
		return "/" + rel
	case u.IsTest():
		return path.Join("/package-tests", u.PackageName(), rel)
	}
	return path.Join("/packages", u.PackageName(), rel)
}

func combinedServePath(u *unit.Unit) string {
	if u.Kind() == unit.KindApp {
		return ""
	}
	root := "/packages/"
	if u.IsTest() {
		root = "/package-tests/"
	}
	name := u.PackageName()
	if u.Name() != "main" && u.Name() != "tests" {
		name += "/" + u.Name()
	}
	return root + name + ".js"
}

// variables merges the assigned variables with the exports. Apps export
// every variable; packages export marked and forced names.
func variables(u *unit.Unit, assigned, markers []string) []unit.Variable {
	vis := make(map[string]unit.Visibility)
	for _, name := range markers {
		vis[name] = unit.Always
	}
	for _, e := range u.ForcedExports() {
		vis[e.Name] = e.Visibility
	}

	names := util.SortedUnion(assigned, util.SortedKeys(vis))

	out := make([]unit.Variable, 0, len(names))
	for _, name := range names {
		v, exported := vis[name]
		out = append(out, unit.Variable{
			Name:       name,
			Export:     exported || u.Kind() == unit.KindApp,
			Visibility: v,
		})
	}
	return out
}

// structureLoader loads dependency packages without building them. Plugin
// discovery needs only their units and handler declarations.
type structureLoader struct {
	compiler *Compiler
	self     *unit.Package
	loaded   map[string]*unit.Package
}

func (l *structureLoader) Package(name string) (*unit.Package, error) {
	if name == l.self.Name && name != "" {
		return l.self, nil
	}
	if p, ok := l.loaded[name]; ok {
		return p, nil
	}
	dir, ok := l.compiler.catalog.Dir(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", unit.ErrUnknownPackage, name)
	}
	p, err := l.compiler.Load(dir, nil)
	if err != nil {
		return nil, err
	}
	l.loaded[name] = p
	return p, nil
}
