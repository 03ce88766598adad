package compiler

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/albertocavalcante/forge/internal/log"
	"github.com/albertocavalcante/forge/pkg/archinfo"
	"github.com/albertocavalcante/forge/pkg/unit"
)

// Manifest file names, in lookup order.
const (
	ManifestTOML = "package.toml"
	ManifestYAML = "package.yaml"
)

// ManifestNames lists the file names that make a directory a package.
var ManifestNames = []string{ManifestTOML, ManifestYAML}

// Manifest is a parsed package manifest.
type Manifest struct {
	Name    string `toml:"name" yaml:"name"`
	Version string `toml:"version" yaml:"version"`

	// Defaults maps an arch to the unit names an edge without a unit
	// name resolves to.
	Defaults map[string][]string `toml:"defaults" yaml:"defaults"`

	// Tests maps an arch to the test unit names bundled when the package
	// is tested. Without an entry every test unit is used.
	Tests map[string][]string `toml:"tests" yaml:"tests"`

	Units []UnitManifest `toml:"unit" yaml:"unit"`
}

// UnitManifest declares one unit, possibly for several arches.
type UnitManifest struct {
	Name string `toml:"name" yaml:"name"`
	Kind string `toml:"kind" yaml:"kind"`
	Arch string `toml:"arch" yaml:"arch"`

	// Archs declares the same unit for several arches.
	Archs []string `toml:"archs" yaml:"archs"`

	Test     bool              `toml:"test" yaml:"test"`
	Sources  []string          `toml:"sources" yaml:"sources"`
	Exports  []ExportEntry     `toml:"exports" yaml:"exports"`
	Uses     []UseEntry        `toml:"uses" yaml:"uses"`
	Implies  []string          `toml:"implies" yaml:"implies"`
	Handlers map[string]string `toml:"handlers" yaml:"handlers"`

	// Options holds per-file options keyed by source path.
	Options map[string]map[string]any `toml:"options" yaml:"options"`
}

// ExportEntry is "Name" or {name, testOnly, debugOnly}.
type ExportEntry struct {
	Name      string
	TestOnly  bool
	DebugOnly bool
}

// UseEntry is "pkg", "pkg.unit", or a table with the edge fields.
type UseEntry struct {
	Package    string
	Unit       string
	Constraint string
	Unordered  bool
	Weak       bool
}

// ReadManifest parses data as TOML or YAML depending on the file name.
func ReadManifest(path string, data []byte) (*Manifest, error) {
	var m Manifest
	switch filepath.Base(path) {
	case ManifestTOML:
		meta, err := toml.Decode(string(data), &m)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			log.Component("compiler").Warn("unknown manifest keys", "path", path, "keys", fmt.Sprint(undecoded))
		}
	case ManifestYAML:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest %s", path)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	seen := make(map[string]bool)
	for i := range m.Units {
		um := &m.Units[i]
		if um.Name == "" {
			um.Name = "main"
		}
		switch unit.Kind(um.Kind) {
		case "":
			um.Kind = string(unit.KindMain)
		case unit.KindMain, unit.KindPlugin:
		default:
			return fmt.Errorf("unit %s: unknown kind %q", um.Name, um.Kind)
		}
		if len(um.Handlers) > 0 && um.Kind != string(unit.KindPlugin) {
			return fmt.Errorf("unit %s: only plugin units declare handlers", um.Name)
		}
		for _, arch := range um.Arches() {
			key := um.Name + "@" + arch
			if seen[key] {
				return fmt.Errorf("unit %s declared twice for %s", um.Name, arch)
			}
			seen[key] = true
		}
	}
	return nil
}

// Arches returns the declared arches, defaulting to "os".
func (um UnitManifest) Arches() []string {
	out := slices.Clone(um.Archs)
	if um.Arch != "" {
		out = append([]string{um.Arch}, out...)
	}
	if len(out) == 0 {
		out = []string{archinfo.OS}
	}
	return slices.Compact(out)
}

func (e *ExportEntry) UnmarshalTOML(v any) error {
	return e.decode(v)
}

func (e *ExportEntry) UnmarshalYAML(unmarshal func(any) error) error {
	var v any
	if err := unmarshal(&v); err != nil {
		return err
	}
	return e.decode(v)
}

func (e *ExportEntry) decode(v any) error {
	if s, ok := v.(string); ok {
		*e = ExportEntry{Name: s}
		return nil
	}
	fields, err := table(v)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	e.Name, err = stringField(fields, "name")
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if e.Name == "" {
		return fmt.Errorf("export: name is required")
	}
	if e.TestOnly, err = boolField(fields, "testOnly"); err != nil {
		return fmt.Errorf("export %s: %w", e.Name, err)
	}
	if e.DebugOnly, err = boolField(fields, "debugOnly"); err != nil {
		return fmt.Errorf("export %s: %w", e.Name, err)
	}
	return nil
}

// Visibility maps the entry flags onto a unit visibility.
func (e ExportEntry) Visibility() unit.Visibility {
	switch {
	case e.TestOnly:
		return unit.TestOnly
	case e.DebugOnly:
		return unit.DebugOnly
	}
	return unit.Always
}

func (u *UseEntry) UnmarshalTOML(v any) error {
	return u.decode(v)
}

func (u *UseEntry) UnmarshalYAML(unmarshal func(any) error) error {
	var v any
	if err := unmarshal(&v); err != nil {
		return err
	}
	return u.decode(v)
}

func (u *UseEntry) decode(v any) error {
	if s, ok := v.(string); ok {
		pkg, name, err := unit.ParseSpec(s)
		if err != nil {
			return err
		}
		*u = UseEntry{Package: pkg, Unit: name}
		return nil
	}
	fields, err := table(v)
	if err != nil {
		return fmt.Errorf("uses: %w", err)
	}
	for _, f := range []struct {
		key string
		dst *string
	}{{"package", &u.Package}, {"unit", &u.Unit}, {"constraint", &u.Constraint}} {
		if *f.dst, err = stringField(fields, f.key); err != nil {
			return fmt.Errorf("uses: %w", err)
		}
	}
	if u.Unordered, err = boolField(fields, "unordered"); err != nil {
		return fmt.Errorf("uses %s: %w", u.Package, err)
	}
	if u.Weak, err = boolField(fields, "weak"); err != nil {
		return fmt.Errorf("uses %s: %w", u.Package, err)
	}
	return nil
}

// Edge converts the entry to a validated dependency edge.
func (u UseEntry) Edge() (unit.Edge, error) {
	e := unit.Edge{Package: u.Package, Unit: u.Unit, Constraint: u.Constraint, Unordered: u.Unordered, Weak: u.Weak}
	return e, e.Validate()
}

// table normalizes the map shapes produced by the TOML and YAML decoders.
func table(v any) (map[string]any, error) {
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			out[ks] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("want a string or a table, got %T", v)
}

func stringField(fields map[string]any, key string) (string, error) {
	v, ok := fields[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
	return s, nil
}

func boolField(fields map[string]any, key string) (bool, error) {
	v, ok := fields[key]
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean, got %T", key, v)
	}
	return b, nil
}
