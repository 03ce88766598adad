package unit

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/albertocavalcante/forge/pkg/archinfo"
	"github.com/albertocavalcante/forge/pkg/handler"
	"github.com/albertocavalcante/forge/pkg/linker"
)

func edge(t *testing.T, spec string, unordered, weak bool) Edge {
	t.Helper()
	e, err := NewEdge(spec, unordered, weak)
	if err != nil {
		t.Fatalf("NewEdge(%q): %v", spec, err)
	}
	return e
}

// addUnit adds a built unit exporting exports to pkg.
func addUnit(t *testing.T, pkg *Package, opts Options, exports ...string) *Unit {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "main"
	}
	if opts.Arch == "" {
		opts.Arch = archinfo.OS
	}
	u, err := New(opts)
	if err != nil {
		t.Fatalf("New(%s): %v", opts.Name, err)
	}
	pkg.AddUnit(u)
	var vars []Variable
	for _, name := range exports {
		vis := Always
		if n, ok := strings.CutSuffix(name, ":test"); ok {
			name, vis = n, TestOnly
		}
		if n, ok := strings.CutSuffix(name, ":debug"); ok {
			name, vis = n, DebugOnly
		}
		vars = append(vars, Variable{Name: name, Export: true, Visibility: vis})
	}
	if err := u.Complete(Phase1{Variables: vars}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	return u
}

func visitNames(t *testing.T, u *Unit, loader Loader, arch string, opts TraverseOptions) []string {
	t.Helper()
	var names []string
	err := u.EachUsed(loader, arch, opts, func(used *Unit, _ EdgeInfo) error {
		names = append(names, used.PackageName()+"."+used.Name())
		return nil
	})
	if err != nil {
		t.Fatalf("EachUsed: %v", err)
	}
	return names
}

func TestNewEdge(t *testing.T) {
	tests := []struct {
		spec            string
		unordered, weak bool
		want            Edge
		wantErr         bool
	}{
		{spec: "util", want: Edge{Package: "util"}},
		{spec: "util.server", want: Edge{Package: "util", Unit: "server"}},
		{spec: "util", weak: true, want: Edge{Package: "util", Weak: true}},
		{spec: "util", unordered: true, weak: true, wantErr: true},
		{spec: "", wantErr: true},
		{spec: "a.b.c", wantErr: true},
		{spec: "a.", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := NewEdge(tt.spec, tt.unordered, tt.weak)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEdge) {
					t.Fatalf("NewEdge(%q) error = %v, want ErrInvalidEdge", tt.spec, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEdge(%q): %v", tt.spec, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("NewEdge(%q) mismatch (-want +got):\n%s", tt.spec, diff)
			}
		})
	}
}

func TestNewRejectsWeakImplies(t *testing.T) {
	_, err := New(Options{Name: "main", Arch: "os", Implies: []Edge{{Package: "a", Weak: true}}})
	if !errors.Is(err, ErrInvalidEdge) {
		t.Errorf("New() error = %v, want ErrInvalidEdge", err)
	}
}

func TestMergeEdges(t *testing.T) {
	in := []Edge{{Package: "a"}, {Package: "b"}, {Package: "a", Weak: true}, {Package: "c"}}
	want := []Edge{{Package: "b"}, {Package: "a", Weak: true}, {Package: "c"}}
	if diff := cmp.Diff(want, MergeEdges(in)); diff != "" {
		t.Errorf("MergeEdges mismatch (-want +got):\n%s", diff)
	}
}

func TestUnitID(t *testing.T) {
	p := NewPackage("util")
	a := addUnit(t, p, Options{Arch: "os"})
	b := addUnit(t, p, Options{Arch: "web.browser"})
	if !strings.HasPrefix(a.ID(), "util.main@os#") {
		t.Errorf("ID() = %q", a.ID())
	}
	if a.ID() == b.ID() {
		t.Errorf("IDs collide: %q", a.ID())
	}
	app := NewPackage("")
	c := addUnit(t, app, Options{Name: "app", Kind: KindApp})
	if !strings.HasPrefix(c.ID(), "(app).app@os#") {
		t.Errorf("app ID() = %q", c.ID())
	}
}

func TestCompleteOnce(t *testing.T) {
	u := addUnit(t, NewPackage("a"), Options{})
	if err := u.Complete(Phase1{}); !errors.Is(err, ErrAlreadyBuilt) {
		t.Errorf("second Complete() error = %v, want ErrAlreadyBuilt", err)
	}
}

func TestPackageUnitMostSpecific(t *testing.T) {
	p := NewPackage("util")
	os := addUnit(t, p, Options{Arch: "os"})
	linux := addUnit(t, p, Options{Arch: "os.linux"})
	web := addUnit(t, p, Options{Arch: "web"})

	tests := []struct {
		arch string
		want *Unit
	}{
		{"os.linux.x86_64", linux},
		{"os.osx.arm64", os},
		{"web.browser", web},
	}
	for _, tt := range tests {
		got, err := p.Unit("main", tt.arch)
		if err != nil {
			t.Fatalf("Unit(main, %s): %v", tt.arch, err)
		}
		if got != tt.want {
			t.Errorf("Unit(main, %s) = %s, want %s", tt.arch, got, tt.want)
		}
	}
	if _, err := p.Unit("main", "wasm"); !errors.Is(err, archinfo.ErrNoCompatibleArch) {
		t.Errorf("Unit(main, wasm) error = %v, want ErrNoCompatibleArch", err)
	}
}

func TestPackageDefaultAndTestUnits(t *testing.T) {
	p := NewPackage("util")
	addUnit(t, p, Options{Name: "main"})
	addUnit(t, p, Options{Name: "extra"})
	addUnit(t, p, Options{Name: "tests", Test: true})

	names := func(us []*Unit) []string {
		var out []string
		for _, u := range us {
			out = append(out, u.Name())
		}
		return out
	}

	got, err := p.DefaultUnits("os.linux")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"main", "extra"}, names(got)); diff != "" {
		t.Errorf("implicit defaults (-want +got):\n%s", diff)
	}

	p.SetDefaultUnits("os", []string{"extra"})
	got, err = p.DefaultUnits("os.linux")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"extra"}, names(got)); diff != "" {
		t.Errorf("declared defaults (-want +got):\n%s", diff)
	}

	got, err = p.TestUnits("os")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"tests"}, names(got)); diff != "" {
		t.Errorf("test units (-want +got):\n%s", diff)
	}
}

func TestEachUsedOrderAndDedup(t *testing.T) {
	a, b, c, d := NewPackage("a"), NewPackage("b"), NewPackage("c"), NewPackage("d")
	addUnit(t, d, Options{})
	addUnit(t, c, Options{Implies: []Edge{{Package: "d"}}})
	addUnit(t, b, Options{Uses: []Edge{{Package: "c"}}, Implies: []Edge{{Package: "c"}}})
	addUnit(t, a, Options{Implies: []Edge{{Package: "d"}}})
	loader := MapLoader{"a": a, "b": b, "c": c, "d": d}

	root, _ := New(Options{Name: "main", Arch: "os", Uses: []Edge{{Package: "b"}, {Package: "a"}}})
	NewPackage("app").AddUnit(root)

	want := []string{"b.main", "a.main", "c.main", "d.main"}
	for i := 0; i < 3; i++ {
		got := visitNames(t, root, loader, "os.linux", TraverseOptions{})
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("run %d visit order (-want +got):\n%s", i, diff)
		}
	}
}

func TestEachUsedFilters(t *testing.T) {
	w, o, s := NewPackage("w"), NewPackage("o"), NewPackage("s")
	addUnit(t, w, Options{})
	addUnit(t, o, Options{})
	addUnit(t, s, Options{})
	loader := MapLoader{"w": w, "o": o, "s": s}

	root, _ := New(Options{Name: "main", Arch: "os", Uses: []Edge{
		{Package: "w", Weak: true},
		{Package: "o", Unordered: true},
		{Package: "s"},
		{Package: "missing", Weak: true},
	}})
	NewPackage("app").AddUnit(root)

	tests := []struct {
		name string
		opts TraverseOptions
		want []string
	}{
		{"all", TraverseOptions{}, []string{"w.main", "o.main", "s.main"}},
		{"skip weak", TraverseOptions{SkipWeak: true}, []string{"o.main", "s.main"}},
		{"skip both", TraverseOptions{SkipWeak: true, SkipUnordered: true}, []string{"s.main"}},
		{"acceptable weak", TraverseOptions{SkipWeak: true, SkipUnordered: true, AcceptableWeak: map[string]bool{"w": true}}, []string{"w.main", "s.main"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := visitNames(t, root, loader, "os", tt.opts)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("visited (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEachUsedUnresolved(t *testing.T) {
	web := NewPackage("web")
	addUnit(t, web, Options{Arch: "web.browser"})
	loader := MapLoader{"web": web}

	for _, uses := range [][]Edge{{{Package: "nope"}}, {{Package: "web"}}, {{Package: "web", Unit: "other"}}} {
		root, _ := New(Options{Name: "main", Arch: "os", Uses: uses})
		NewPackage("app").AddUnit(root)
		err := root.EachUsed(loader, "os.linux", TraverseOptions{}, func(*Unit, EdgeInfo) error { return nil })
		if !errors.Is(err, ErrUnresolvedDependency) {
			t.Errorf("uses %v: error = %v, want ErrUnresolvedDependency", uses, err)
		}
	}
}

func TestEachUsedEdgeInfo(t *testing.T) {
	w := NewPackage("w")
	addUnit(t, w, Options{})
	root, _ := New(Options{Name: "main", Arch: "os", Uses: []Edge{{Package: "w", Weak: true}}})
	NewPackage("app").AddUnit(root)

	var got []EdgeInfo
	_ = root.EachUsed(MapLoader{"w": w}, "os", TraverseOptions{}, func(_ *Unit, info EdgeInfo) error {
		got = append(got, info)
		return nil
	})
	if diff := cmp.Diff([]EdgeInfo{{Weak: true}}, got); diff != "" {
		t.Errorf("edge info (-want +got):\n%s", diff)
	}
}

func TestImportsServerUsesHelper(t *testing.T) {
	y := NewPackage("Y")
	addUnit(t, y, Options{}, "helper")
	x := NewPackage("X")
	server := addUnit(t, x, Options{Name: "server", Uses: []Edge{{Package: "Y"}}})

	imports, err := server.Imports(MapLoader{"X": x, "Y": y}, "os.linux", ResourceOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if imports["helper"] != "Y" {
		t.Errorf(`imports["helper"] = %q, want "Y"`, imports["helper"])
	}
}

func TestImportsExcludeWeakAndUnordered(t *testing.T) {
	w, o := NewPackage("w"), NewPackage("o")
	addUnit(t, w, Options{}, "W")
	addUnit(t, o, Options{}, "O")
	root := addUnit(t, NewPackage("r"), Options{Uses: []Edge{{Package: "w", Weak: true}, {Package: "o", Unordered: true}}})

	imports, err := root.Imports(MapLoader{"w": w, "o": o}, "os", ResourceOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(imports) != 0 {
		t.Errorf("imports = %v, want none", imports)
	}
}

func TestImportsThroughImplies(t *testing.T) {
	b := NewPackage("b")
	addUnit(t, b, Options{}, "B")
	a := NewPackage("a")
	addUnit(t, a, Options{Implies: []Edge{{Package: "b"}}}, "A")
	c := addUnit(t, NewPackage("c"), Options{Uses: []Edge{{Package: "a"}}})

	imports, err := c.Imports(MapLoader{"a": a, "b": b}, "os", ResourceOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"A": "a", "B": "b"}, imports); diff != "" {
		t.Errorf("imports (-want +got):\n%s", diff)
	}
}

func TestImportsVisibilityAndCollisions(t *testing.T) {
	first, second := NewPackage("first"), NewPackage("second")
	addUnit(t, first, Options{}, "Shared", "T:test", "D:debug")
	addUnit(t, second, Options{}, "Shared")
	loader := MapLoader{"first": first, "second": second}
	uses := []Edge{{Package: "first"}, {Package: "second"}}

	plain := addUnit(t, NewPackage("p"), Options{Uses: uses})
	got, err := plain.Imports(loader, "os", ResourceOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"Shared": "second"}, got); diff != "" {
		t.Errorf("plain imports (-want +got):\n%s", diff)
	}

	tests := addUnit(t, NewPackage("t"), Options{Uses: uses, Test: true})
	got, err = tests.Imports(loader, "os", ResourceOptions{Debug: true})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"Shared": "second", "T": "first", "D": "first"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("test debug imports (-want +got):\n%s", diff)
	}
}

func TestImportsUnbuilt(t *testing.T) {
	dep := NewPackage("dep")
	u, _ := New(Options{Name: "main", Arch: "os"})
	dep.AddUnit(u)
	root := addUnit(t, NewPackage("r"), Options{Uses: []Edge{{Package: "dep"}}})
	if _, err := root.Imports(MapLoader{"dep": dep}, "os", ResourceOptions{}); !errors.Is(err, ErrNotBuilt) {
		t.Errorf("Imports() error = %v, want ErrNotBuilt", err)
	}
}

func TestResources(t *testing.T) {
	y := NewPackage("y")
	addUnit(t, y, Options{}, "helper")

	x := NewPackage("x")
	u, err := New(Options{Name: "main", Arch: "os", Uses: []Edge{{Package: "y"}}})
	if err != nil {
		t.Fatal(err)
	}
	x.AddUnit(u)
	asset := handler.Resource{Type: handler.TypeAsset, Data: []byte("data"), Path: "data.txt"}
	phase1 := Phase1{
		PrelinkFiles: []linker.OutputFile{{Source: "Thing = helper();\n", ServePath: "/packages/x.js", SourceMap: `{"version":3,"mappings":"AAAA"}`}},
		Variables:    []Variable{{Name: "Thing", Export: true}},
		Resources:    []handler.Resource{asset},
	}
	if err := u.Complete(phase1); err != nil {
		t.Fatal(err)
	}
	loader := MapLoader{"x": x, "y": y}

	res, err := u.Resources(loader, "os.linux", ResourceOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d resources, want 2", len(res))
	}
	if diff := cmp.Diff(asset, res[0]); diff != "" {
		t.Errorf("first resource (-want +got):\n%s", diff)
	}
	js := string(res[1].Data)
	for _, want := range []string{"var helper = Package.y.helper;", "var Thing;", "Package.x = {\n  Thing: Thing\n};"} {
		if !strings.Contains(js, want) {
			t.Errorf("linked code missing %q:\n%s", want, js)
		}
	}
	if res[1].SourceMap != "" {
		t.Errorf("server resource kept source map %q", res[1].SourceMap)
	}
	if len(u.Phase1().Resources) != 1 {
		t.Errorf("Resources mutated Phase 1 state")
	}

	if _, err := u.Resources(loader, "web.browser", ResourceOptions{}); !errors.Is(err, archinfo.ErrNoCompatibleArch) {
		t.Errorf("Resources(web.browser) error = %v, want ErrNoCompatibleArch", err)
	}
}

func TestResourcesBrowserApp(t *testing.T) {
	lib := NewPackage("lib")
	addUnit(t, lib, Options{Arch: "web"}, "Lib")

	app := NewPackage("")
	u, _ := New(Options{Name: "app", Kind: KindApp, Arch: "web.browser", Uses: []Edge{{Package: "lib"}}})
	app.AddUnit(u)
	_ = u.Complete(Phase1{PrelinkFiles: []linker.OutputFile{{Source: "x = Lib;\n", ServePath: "/main.js", SourceMap: `{"version":3,"mappings":"AAAA"}`}}})

	res, err := u.Resources(MapLoader{"lib": lib}, "web.browser", ResourceOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, r := range res {
		paths = append(paths, r.ServePath)
	}
	if diff := cmp.Diff([]string{linker.GlobalImportsServePath, "/main.js"}, paths); diff != "" {
		t.Errorf("serve paths (-want +got):\n%s", diff)
	}
	if res[1].SourceMap == "" {
		t.Errorf("browser resource lost its source map")
	}
}
