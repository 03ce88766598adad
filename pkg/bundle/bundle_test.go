package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/albertocavalcante/forge/pkg/archinfo"
	"github.com/albertocavalcante/forge/pkg/buildcache"
	"github.com/albertocavalcante/forge/pkg/buildmsg"
	"github.com/albertocavalcante/forge/pkg/changeset"
	"github.com/albertocavalcante/forge/pkg/compiler"
	"github.com/albertocavalcante/forge/pkg/linker"
	"github.com/albertocavalcante/forge/pkg/unit"
	"github.com/albertocavalcante/forge/pkg/watch"
)

// fakeBuilder serves prebuilt packages.
type fakeBuilder map[string]*buildcache.Result

func (f fakeBuilder) Build(name string) (*buildcache.Result, error) {
	if res, ok := f[name]; ok {
		return res, nil
	}
	return nil, fmt.Errorf("%w: %s", unit.ErrUnknownPackage, name)
}

// add registers a built package with one "main" unit at os.
func (f fakeBuilder) add(t *testing.T, name string, uses ...unit.Edge) {
	t.Helper()
	p := unit.NewPackage(name)
	u, err := unit.New(unit.Options{Name: "main", Arch: "os", Uses: uses})
	if err != nil {
		t.Fatal(err)
	}
	p.AddUnit(u)
	if err := u.Complete(unit.Phase1{
		PrelinkFiles: []linker.OutputFile{{Source: name + "();\n", ServePath: "/packages/" + name + ".js"}},
	}); err != nil {
		t.Fatal(err)
	}
	cs := changeset.New()
	cs.AddFile("/src/"+name, changeset.Absent)
	f[name] = &buildcache.Result{Package: p, ChangeSet: cs, Messages: buildmsg.New(name)}
}

func loadOrder(plan *Plan) []string {
	var out []string
	for _, u := range plan.Units {
		out = append(out, u.Package)
	}
	return out
}

func TestLoadOrder(t *testing.T) {
	b := fakeBuilder{}
	b.add(t, "base")
	b.add(t, "util", unit.Edge{Package: "base"})
	b.add(t, "late", unit.Edge{Package: "util"})
	b.add(t, "app", unit.Edge{Package: "late", Unordered: true}, unit.Edge{Package: "util"}, unit.Edge{Package: "ghost", Weak: true})

	plan, err := New(b, []string{"app"}, Options{Arch: "os.linux"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"base", "util", "app", "late"}, loadOrder(plan)); diff != "" {
		t.Errorf("load order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/src/app", "/src/base", "/src/late", "/src/util"}, plan.ChangeSet.FilePaths()); diff != "" {
		t.Errorf("union ChangeSet (-want +got):\n%s", diff)
	}
}

func TestUnorderedBreaksCycles(t *testing.T) {
	b := fakeBuilder{}
	b.add(t, "a", unit.Edge{Package: "b"})
	b.add(t, "b", unit.Edge{Package: "a", Unordered: true})

	plan, err := New(b, []string{"a"}, Options{Arch: "os"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"b", "a"}, loadOrder(plan)); diff != "" {
		t.Errorf("load order (-want +got):\n%s", diff)
	}
}

func TestOrderedCycle(t *testing.T) {
	b := fakeBuilder{}
	b.add(t, "a", unit.Edge{Package: "b"})
	b.add(t, "b", unit.Edge{Package: "a"})
	if _, err := New(b, []string{"a"}, Options{Arch: "os"}); !errors.Is(err, ErrCircularDependency) {
		t.Errorf("New() error = %v, want ErrCircularDependency", err)
	}
}

func TestNoCompatibleArch(t *testing.T) {
	b := fakeBuilder{}
	b.add(t, "a")
	if _, err := New(b, []string{"a"}, Options{Arch: "web.browser"}); !errors.Is(err, archinfo.ErrNoCompatibleArch) {
		t.Errorf("New() error = %v, want ErrNoCompatibleArch", err)
	}
}

func TestPlanFromSource(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{
		"Y/package.toml": "[[unit]]\nsources = [\"y.js\"]\n",
		"Y/y.js":         "// @export helper\nhelper = function () {};\n",
		"X/package.toml": "[[unit]]\nname = \"server\"\nsources = [\"x.js\"]\nuses = [\"Y\"]\n",
		"X/x.js":         "Thing = helper();\n",
	}
	for rel, content := range files {
		path := filepath.Join(src, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	catalog, err := compiler.ScanDirs(src)
	if err != nil {
		t.Fatal(err)
	}
	l, err := linker.New(linker.WithAnalyzer(linker.HeuristicAnalyzer{}))
	if err != nil {
		t.Fatal(err)
	}
	comp, err := compiler.New(catalog, compiler.WithLinker(l))
	if err != nil {
		t.Fatal(err)
	}
	cache, err := buildcache.New(comp, filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatal(err)
	}

	plan, err := New(cache, []string{"X"}, Options{Arch: "os.linux.x86_64"})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Messages.HasMessages() {
		t.Fatalf("unexpected messages:\n%s", plan.Messages.Format())
	}
	if diff := cmp.Diff([]string{"Y", "X"}, loadOrder(plan)); diff != "" {
		t.Fatalf("load order (-want +got):\n%s", diff)
	}
	x := string(plan.Units[1].Resources[0].Data)
	if !strings.Contains(x, "var helper = Package.Y.helper;") {
		t.Errorf("X does not import helper from Y:\n%s", x)
	}
	if !watch.IsUpToDate(plan.ChangeSet) {
		t.Errorf("fresh plan ChangeSet is not up to date")
	}
}
