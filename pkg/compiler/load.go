package compiler

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/albertocavalcante/forge/pkg/buildmsg"
	"github.com/albertocavalcante/forge/pkg/changeset"
	"github.com/albertocavalcante/forge/pkg/unit"
	"github.com/albertocavalcante/forge/pkg/watch"
)

// AppUnitName names the units of an app.
const AppUnitName = "app"

// AppPackagesFile lists the packages an app uses, one spec per line,
// relative to the app directory.
const AppPackagesFile = ".forge/packages"

// Load reads the package in dir without building it. A directory without
// a manifest is an app. Dependencies missing from the catalog are
// reported to msgs and dropped, except weak ones. Units with such an edge
// also watch the catalog, so the package appearing makes them stale.
func (c *Compiler) Load(dir string, msgs *buildmsg.Messages) (*unit.Package, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	watched := changeset.New()
	path, ok := FindManifest(dir)
	for _, name := range ManifestNames {
		p := filepath.Join(dir, name)
		if ok && p == path {
			break
		}
		// Adding a manifest changes what the directory is.
		watched.AddFile(p, changeset.Absent)
	}
	if !ok {
		return c.loadApp(dir, watched, msgs)
	}

	data, err := watch.ReadAndWatchFile(watched, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := ReadManifest(path, data)
	if err != nil {
		return nil, err
	}
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}

	p := unit.NewPackage(m.Name)
	p.Version = m.Version
	p.Dir = dir
	for arch, names := range m.Defaults {
		p.SetDefaultUnits(arch, names)
	}
	for arch, names := range m.Tests {
		p.SetTestUnits(arch, names)
	}

	for _, um := range m.Units {
		uses := make([]unit.Edge, 0, len(um.Uses))
		for _, entry := range um.Uses {
			e, err := entry.Edge()
			if err != nil {
				return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
			}
			uses = append(uses, e)
		}
		implies := make([]unit.Edge, 0, len(um.Implies))
		for _, spec := range um.Implies {
			e, err := unit.NewImplies(spec)
			if err != nil {
				return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
			}
			implies = append(implies, e)
		}
		exports := make([]unit.Export, 0, len(um.Exports))
		for _, entry := range um.Exports {
			exports = append(exports, unit.Export{Name: entry.Name, Visibility: entry.Visibility()})
		}

		for _, arch := range um.Arches() {
			deps := changeset.New()
			u, err := unit.New(unit.Options{
				Name:        um.Name,
				Kind:        unit.Kind(um.Kind),
				Arch:        arch,
				Test:        um.Test,
				Uses:        c.knownEdges(unit.MergeEdges(uses), path, deps, msgs),
				Implies:     c.knownEdges(implies, path, deps, msgs),
				Sources:     um.Sources,
				Exports:     exports,
				Handlers:    um.Handlers,
				FileOptions: um.Options,
			})
			if err != nil {
				return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
			}
			u.ChangeSet.Merge(watched)
			u.ChangeSet.Merge(deps)
			p.AddUnit(u)
		}
	}
	return p, nil
}

// loadApp creates one app unit per configured arch, with every file in
// dir as a source.
func (c *Compiler) loadApp(dir string, watched *changeset.ChangeSet, msgs *buildmsg.Messages) (*unit.Package, error) {
	path := filepath.Join(dir, filepath.FromSlash(AppPackagesFile))
	data, err := watch.ReadAndWatchFile(watched, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read app packages: %w", err)
	}
	uses, err := parseAppPackages(data)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	uses = c.knownEdges(unit.MergeEdges(uses), path, watched, msgs)

	p := unit.NewPackage("")
	p.Dir = dir
	for _, arch := range c.arches {
		u, err := unit.New(unit.Options{
			Name:    AppUnitName,
			Kind:    unit.KindApp,
			Arch:    arch,
			Uses:    uses,
			Sources: []string{"**"},
		})
		if err != nil {
			return nil, err
		}
		u.ChangeSet.Merge(watched)
		p.AddUnit(u)
	}
	return p, nil
}

// parseAppPackages reads "pkg", "pkg.unit" or "pkg@constraint" lines.
// Blank lines and # comments are ignored.
func parseAppPackages(data []byte) ([]unit.Edge, error) {
	var edges []unit.Edge
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line, _, _ := strings.Cut(sc.Text(), "#")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		spec, constraint, _ := strings.Cut(line, "@")
		e, err := unit.NewEdge(strings.TrimSpace(spec), false, false)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		e.Constraint = strings.TrimSpace(constraint)
		edges = append(edges, e)
	}
	return edges, sc.Err()
}

// knownEdges drops edges to packages missing from the catalog, keeping weak
// ones. If any edge is unresolved, the catalog's changeset goes into cs.
func (c *Compiler) knownEdges(edges []unit.Edge, manifest string, cs *changeset.ChangeSet, msgs *buildmsg.Messages) []unit.Edge {
	out := edges[:0:0]
	unresolved := false
	for _, e := range edges {
		if _, ok := c.catalog.Dir(e.Package); !ok {
			unresolved = true
			if !e.Weak {
				msgs.Errorf([]buildmsg.Option{buildmsg.File(manifest)}, "missing dependency %s", e.Spec())
				continue
			}
		}
		out = append(out, e)
	}
	if unresolved {
		cs.Merge(c.catalog.ChangeSet())
	}
	return out
}
