package buildcache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/albertocavalcante/forge/pkg/changeset"
	"github.com/albertocavalcante/forge/pkg/handler"
	"github.com/albertocavalcante/forge/pkg/linker"
	"github.com/albertocavalcante/forge/pkg/stager"
	"github.com/albertocavalcante/forge/pkg/unit"
)

// Artifact file names and format tags.
const (
	PackageFile   = "unipackage.json"
	BuildInfoFile = "buildinfo.json"

	PackageFormat = "forge-package-1"
	UnitFormat    = "forge-unit-1"
)

type packageJSON struct {
	Format   string              `json:"format"`
	Name     string              `json:"name"`
	Version  string              `json:"version,omitempty"`
	Dir      string              `json:"dir"`
	Defaults map[string][]string `json:"defaults,omitempty"`
	Tests    map[string][]string `json:"tests,omitempty"`
	Units    []unitRefJSON       `json:"units"`
}

type unitRefJSON struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Arch string `json:"arch"`
	Path string `json:"path"`
}

type buildInfoJSON struct {
	BuilderVersion string               `json:"builderVersion"`
	ChangeSet      *changeset.ChangeSet `json:"changeSet"`
}

type unitJSON struct {
	Format           string            `json:"format"`
	Name             string            `json:"name"`
	Kind             string            `json:"kind"`
	Arch             string            `json:"arch"`
	Test             bool              `json:"test,omitempty"`
	Uses             []unit.Edge       `json:"uses,omitempty"`
	Implies          []unit.Edge       `json:"implies,omitempty"`
	Sources          []string          `json:"sources,omitempty"`
	Exports          []unit.Export     `json:"exports,omitempty"`
	Handlers         map[string]string `json:"handlers,omitempty"`
	PackageVariables []unit.Variable   `json:"packageVariables,omitempty"`
	Prelink          []prelinkJSON     `json:"prelink,omitempty"`
	Resources        []resourceJSON    `json:"resources,omitempty"`
}

type prelinkJSON struct {
	File      string `json:"file"`
	ServePath string `json:"servePath"`
	SourceMap string `json:"sourceMap,omitempty"`
}

type resourceJSON struct {
	Type      handler.ResourceType `json:"type"`
	File      string               `json:"file"`
	Offset    int                  `json:"offset,omitempty"`
	Length    int                  `json:"length"`
	ServePath string               `json:"servePath,omitempty"`
	Path      string               `json:"path,omitempty"`
	SourceMap string               `json:"sourceMap,omitempty"`
}

// writeArtifact stages p and its ChangeSet under s.
func writeArtifact(s *stager.Stager, p *unit.Package, cs *changeset.ChangeSet, version string) error {
	pj := packageJSON{
		Format:   PackageFormat,
		Name:     p.Name,
		Version:  p.Version,
		Dir:      p.Dir,
		Defaults: p.DefaultUnitNames(),
		Tests:    p.TestUnitNames(),
	}
	for _, name := range []string{PackageFile, BuildInfoFile} {
		if _, err := s.Reserve(name, stager.ReserveOptions{}); err != nil {
			return err
		}
	}
	for _, u := range p.Units() {
		rel, err := writeUnit(s, u)
		if err != nil {
			return fmt.Errorf("failed to write unit %s: %w", u, err)
		}
		pj.Units = append(pj.Units, unitRefJSON{Name: u.Name(), Kind: string(u.Kind()), Arch: u.Arch(), Path: rel})
	}
	if err := s.WriteJSON(BuildInfoFile, buildInfoJSON{BuilderVersion: version, ChangeSet: cs}); err != nil {
		return err
	}
	return s.WriteJSON(PackageFile, pj)
}

func writeUnit(s *stager.Stager, u *unit.Unit) (string, error) {
	dir, err := s.GenerateUniqueName(u.Name()+"@"+u.Arch(), stager.ReserveOptions{Directory: true})
	if err != nil {
		return "", err
	}
	blobs := s.Enter(dir)
	// Paths in the unit file are relative to the artifact root.
	write := func(name string, data []byte) (string, error) {
		rel, err := blobs.WriteToGeneratedFilename(name, stager.WriteOptions{Data: data})
		if err != nil {
			return "", err
		}
		return path.Join(dir, rel), nil
	}

	opts := u.Options()
	phase1 := u.Phase1()
	uj := unitJSON{
		Format:           UnitFormat,
		Name:             u.Name(),
		Kind:             string(u.Kind()),
		Arch:             u.Arch(),
		Test:             u.IsTest(),
		Uses:             opts.Uses,
		Implies:          opts.Implies,
		Sources:          opts.Sources,
		Exports:          opts.Exports,
		Handlers:         opts.Handlers,
		PackageVariables: phase1.Variables,
	}

	for _, f := range phase1.PrelinkFiles {
		pj := prelinkJSON{ServePath: f.ServePath}
		if pj.File, err = write(path.Base(f.ServePath), []byte(f.Source)); err != nil {
			return "", err
		}
		if f.SourceMap != "" {
			if pj.SourceMap, err = write(path.Base(f.ServePath)+".map", []byte(f.SourceMap)); err != nil {
				return "", err
			}
		}
		uj.Prelink = append(uj.Prelink, pj)
	}

	// Head and body markup share one file per type.
	shared := map[handler.ResourceType]*sharedBlob{
		handler.TypeHead: {name: "head.html"},
		handler.TypeBody: {name: "body.html"},
	}
	for _, r := range phase1.Resources {
		rj := resourceJSON{Type: r.Type, Length: len(r.Data), ServePath: r.ServePath, Path: r.Path}
		if sb, ok := shared[r.Type]; ok {
			if sb.rel == "" {
				if sb.rel, err = blobs.GenerateUniqueName(sb.name, stager.ReserveOptions{}); err != nil {
					return "", err
				}
			}
			rj.File, rj.Offset = path.Join(dir, sb.rel), sb.buf.Len()
			sb.buf.Write(r.Data)
			uj.Resources = append(uj.Resources, rj)
			continue
		}
		name := path.Base(r.ServePath)
		if r.Path != "" {
			name = path.Base(r.Path)
		}
		if rj.File, err = write(name, r.Data); err != nil {
			return "", err
		}
		if r.SourceMap != "" {
			if rj.SourceMap, err = write(name+".map", []byte(r.SourceMap)); err != nil {
				return "", err
			}
		}
		uj.Resources = append(uj.Resources, rj)
	}
	for _, typ := range []handler.ResourceType{handler.TypeHead, handler.TypeBody} {
		sb := shared[typ]
		if sb.rel == "" {
			continue
		}
		if _, err := blobs.Write(sb.rel, stager.WriteOptions{Data: sb.buf.Bytes()}); err != nil {
			return "", err
		}
	}

	rel, err := s.GenerateUniqueName(u.Name()+".json", stager.ReserveOptions{})
	if err != nil {
		return "", err
	}
	return rel, s.WriteJSON(rel, uj)
}

// readBuildInfo returns the recorded builder version and ChangeSet. A
// missing artifact yields fs.ErrNotExist.
func readBuildInfo(dir string) (*buildInfoJSON, error) {
	var info buildInfoJSON
	if err := readJSON(dir, BuildInfoFile, &info); err != nil {
		return nil, err
	}
	if info.ChangeSet == nil {
		return nil, malformedf(filepath.Join(dir, BuildInfoFile), "no change set")
	}
	return &info, nil
}

// readArtifact reconstructs a built package. Every unit shares cs.
func readArtifact(dir string, cs *changeset.ChangeSet) (*unit.Package, error) {
	var pj packageJSON
	if err := readJSON(dir, PackageFile, &pj); err != nil {
		return nil, err
	}
	if pj.Format != PackageFormat {
		return nil, malformedf(filepath.Join(dir, PackageFile), "unsupported format %q", pj.Format)
	}

	p := unit.NewPackage(pj.Name)
	p.Version = pj.Version
	p.Dir = pj.Dir
	for arch, names := range pj.Defaults {
		p.SetDefaultUnits(arch, names)
	}
	for arch, names := range pj.Tests {
		p.SetTestUnits(arch, names)
	}
	for _, ref := range pj.Units {
		u, err := readUnit(dir, ref.Path)
		if err != nil {
			return nil, err
		}
		p.AddUnit(u.unit)
		u.unit.ChangeSet.Merge(cs)
		if err := u.unit.Complete(u.phase1); err != nil {
			return nil, err
		}
	}
	return p, nil
}

type sharedBlob struct {
	name string
	rel  string
	buf  bytes.Buffer
}

type loadedUnit struct {
	unit   *unit.Unit
	phase1 unit.Phase1
}

func readUnit(dir, rel string) (*loadedUnit, error) {
	var uj unitJSON
	if err := readJSON(dir, rel, &uj); err != nil {
		return nil, err
	}
	if uj.Format != UnitFormat {
		return nil, malformedf(filepath.Join(dir, rel), "unsupported format %q", uj.Format)
	}
	u, err := unit.New(unit.Options{
		Name:     uj.Name,
		Kind:     unit.Kind(uj.Kind),
		Arch:     uj.Arch,
		Test:     uj.Test,
		Uses:     uj.Uses,
		Implies:  uj.Implies,
		Sources:  uj.Sources,
		Exports:  uj.Exports,
		Handlers: uj.Handlers,
	})
	if err != nil {
		return nil, malformedf(filepath.Join(dir, rel), "%v", err)
	}

	blobs := make(map[string][]byte)
	read := func(name string) (string, error) {
		data, err := readBlob(dir, name, blobs)
		return string(data), err
	}

	p1 := unit.Phase1{Variables: uj.PackageVariables}
	for _, pj := range uj.Prelink {
		f := linker.OutputFile{ServePath: pj.ServePath}
		if f.Source, err = read(pj.File); err != nil {
			return nil, err
		}
		if pj.SourceMap != "" {
			if f.SourceMap, err = read(pj.SourceMap); err != nil {
				return nil, err
			}
		}
		p1.PrelinkFiles = append(p1.PrelinkFiles, f)
	}
	for _, rj := range uj.Resources {
		data, err := readBlob(dir, rj.File, blobs)
		if err != nil {
			return nil, err
		}
		if rj.Offset < 0 || rj.Length < 0 || rj.Offset+rj.Length > len(data) {
			return nil, malformedf(rj.File, "range %d+%d outside %d bytes", rj.Offset, rj.Length, len(data))
		}
		r := handler.Resource{
			Type:      rj.Type,
			Data:      data[rj.Offset : rj.Offset+rj.Length],
			ServePath: rj.ServePath,
			Path:      rj.Path,
		}
		if rj.SourceMap != "" {
			if r.SourceMap, err = read(rj.SourceMap); err != nil {
				return nil, err
			}
		}
		p1.Resources = append(p1.Resources, r)
	}
	return &loadedUnit{unit: u, phase1: p1}, nil
}

// checkRel rejects artifact paths that leave the artifact directory.
func checkRel(dir, rel string) (string, error) {
	if rel == "" || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", malformedf(rel, "path escapes artifact directory %s", dir)
	}
	return filepath.Join(dir, filepath.FromSlash(rel)), nil
}

func readBlob(dir, rel string, cache map[string][]byte) ([]byte, error) {
	if data, ok := cache[rel]; ok {
		return data, nil
	}
	full, err := checkRel(dir, rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, malformedf(rel, "%v", err)
	}
	cache[rel] = data
	return data, nil
}

func readJSON(dir, rel string, v any) error {
	full, err := checkRel(dir, rel)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) && (rel == PackageFile || rel == BuildInfoFile) {
		return err
	}
	if err != nil {
		return malformedf(rel, "%v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return malformedf(rel, "%v", err)
	}
	return nil
}
