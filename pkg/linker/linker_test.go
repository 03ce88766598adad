package linker

import (
	"strings"
	"sync/atomic"
	"testing"

	"github.com/albertocavalcante/forge/pkg/buildmsg"
	"github.com/google/go-cmp/cmp"
)

type countingAnalyzer struct {
	calls atomic.Int32
}

func (a *countingAnalyzer) Name() string { return "counting" }

func (a *countingAnalyzer) AssignedGlobals(src []byte) ([]string, error) {
	a.calls.Add(1)
	return HeuristicAnalyzer{}.AssignedGlobals(src)
}

func newLinker(t *testing.T, opts ...Option) *Linker {
	t.Helper()
	l, err := New(append([]Option{WithAnalyzer(HeuristicAnalyzer{})}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestPrelinkGlobalNamespace(t *testing.T) {
	l := newLinker(t)
	res, err := l.Prelink(PrelinkOptions{
		UseGlobalNamespace: true,
		Files: []InputFile{
			{Source: []byte("Foo = 1;\nvar x = 2;\n"), ServePath: "/app.js", SourcePath: "app.js"},
			{Source: []byte("Bar = 3;"), ServePath: "/lib.js", SourcePath: "lib.js", Bare: true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Bar", "Foo"}, res.AssignedVariables); diff != "" {
		t.Errorf("AssignedVariables mismatch (-want +got):\n%s", diff)
	}
	if len(res.Files) != 2 {
		t.Fatalf("got %d files, want 2", len(res.Files))
	}

	app := res.Files[0]
	if want := "(function(){Foo = 1;\nvar x = 2;\n\n}).call(this);\n"; app.Source != want {
		t.Errorf("app source = %q, want %q", app.Source, want)
	}
	sm, err := ParseSourceMap(app.SourceMap)
	if err != nil {
		t.Fatal(err)
	}
	// First line starts after the closure opener, column 12.
	if want := "YAAA;AACA;AACA"; sm.Mappings != want {
		t.Errorf("Mappings = %q, want %q", sm.Mappings, want)
	}
	if diff := cmp.Diff([]string{"/app.js"}, sm.Sources); diff != "" {
		t.Errorf("Sources mismatch (-want +got):\n%s", diff)
	}

	lib := res.Files[1]
	if want := "Bar = 3;\n"; lib.Source != want {
		t.Errorf("bare source = %q, want %q", lib.Source, want)
	}
}

func TestPrelinkCombined(t *testing.T) {
	l := newLinker(t)
	res, err := l.Prelink(PrelinkOptions{
		Name:              "util",
		CombinedServePath: "/packages/util.js",
		Files: []InputFile{
			{Source: []byte("A = 1;"), ServePath: "/packages/util/a.js", SourcePath: "a.js"},
			{Source: []byte("var b;"), ServePath: "/packages/util/b.js", SourcePath: "b.js", Bare: true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 1 {
		t.Fatalf("got %d files, want 1", len(res.Files))
	}
	out := res.Files[0]
	if out.ServePath != "/packages/util.js" {
		t.Errorf("ServePath = %q", out.ServePath)
	}

	// The first file ends in a newline, so the separator run starts one
	// byte early.
	idx := strings.Index(out.Source, fileSeparator)
	if idx < 0 {
		t.Fatalf("no file separator:\n%s", out.Source)
	}
	a, b := out.Source[:idx+1], out.Source[idx+1+len(fileSeparator):]

	if !strings.HasPrefix(a, "(function(){\n\n"+strings.Repeat("/", 71)+"\n") {
		t.Errorf("wrapped file does not open with closure and banner:\n%s", a)
	}
	if !strings.Contains(a, "// packages/util/a.js") {
		t.Errorf("banner does not name the file:\n%s", a)
	}
	if want := "A = 1;" + strings.Repeat(" ", 62) + " // 1\n"; !strings.Contains(a, want) {
		t.Errorf("line is not annotated:\n%s", a)
	}
	if !strings.HasSuffix(a, strings.Repeat("/", 71)+"\n\n}).call(this);\n") {
		t.Errorf("wrapped file does not close:\n%s", a)
	}

	if strings.HasPrefix(b, "(function(){") || strings.Contains(b, "}).call(this);") {
		t.Errorf("bare file is wrapped:\n%s", b)
	}
	if !strings.Contains(b, "This file is in bare mode") {
		t.Errorf("bare banner note missing:\n%s", b)
	}

	sm, err := ParseSourceMap(out.SourceMap)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"/packages/util/a.js", "/packages/util/b.js"}, sm.Sources); diff != "" {
		t.Errorf("Sources mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A = 1;", "var b;"}, sm.SourcesContent); diff != "" {
		t.Errorf("SourcesContent mismatch (-want +got):\n%s", diff)
	}
}

func TestPrelinkNoLineNumbers(t *testing.T) {
	l := newLinker(t)
	res, err := l.Prelink(PrelinkOptions{
		CombinedServePath: "/packages/p.js",
		NoLineNumbers:     true,
		Files:             []InputFile{{Source: []byte("x;"), ServePath: "/p/x.js"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.Files[0].Source, "x; ") {
		t.Errorf("line annotated despite NoLineNumbers:\n%s", res.Files[0].Source)
	}
}

func TestPrelinkWidthFollowsLongestLine(t *testing.T) {
	long := strings.Repeat("a", 100)
	huge := strings.Repeat("b", 200)
	l := newLinker(t)
	res, err := l.Prelink(PrelinkOptions{
		CombinedServePath: "/packages/p.js",
		Files:             []InputFile{{Source: []byte("x;\n" + long + "\n" + huge), ServePath: "/p/x.js"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	src := res.Files[0].Source
	if want := "x;" + strings.Repeat(" ", 98) + " // 1\n"; !strings.Contains(src, want) {
		t.Errorf("width not taken from the longest line:\n%s", src)
	}
	// Lines at or above the width are left alone.
	if !strings.Contains(src, "\n"+long+"\n") || !strings.Contains(src, "\n"+huge+"\n") {
		t.Errorf("long lines were annotated:\n%s", src)
	}
}

func TestPrelinkParseErrorRecovery(t *testing.T) {
	l := newLinker(t)
	msgs := buildmsg.New("linking util")
	res, err := l.Prelink(PrelinkOptions{
		Name:              "util",
		CombinedServePath: "/packages/util.js",
		Messages:          msgs,
		Files: []InputFile{
			{Source: []byte("function broken( {"), ServePath: "/packages/util/bad.js", SourcePath: "bad.js"},
			{Source: []byte("Good = 1;"), ServePath: "/packages/util/good.js", SourcePath: "good.js"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Good"}, res.AssignedVariables); diff != "" {
		t.Errorf("AssignedVariables mismatch (-want +got):\n%s", diff)
	}
	if strings.Contains(res.Files[0].Source, "broken") {
		t.Errorf("unparseable file was not emptied:\n%s", res.Files[0].Source)
	}
	list := msgs.List()
	if len(list) != 1 {
		t.Fatalf("got %d messages, want 1", len(list))
	}
	if got, want := list[0].String(), `bad.js:1:18: unclosed "{"`; got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}

func TestPrelinkDoesNotMutateInput(t *testing.T) {
	l := newLinker(t)
	files := []InputFile{{Source: []byte("(("), SourcePath: "bad.js"}}
	if _, err := l.Prelink(PrelinkOptions{Files: files}); err != nil {
		t.Fatal(err)
	}
	if string(files[0].Source) != "((" || files[0].Hash != "" {
		t.Errorf("input mutated: %+v", files[0])
	}
}

func TestPrelinkAnalysisCache(t *testing.T) {
	a := &countingAnalyzer{}
	l, err := New(WithAnalyzer(a), WithCacheSize(8))
	if err != nil {
		t.Fatal(err)
	}
	in := PrelinkOptions{
		UseGlobalNamespace: true,
		Files: []InputFile{
			{Source: []byte("A = 1;"), ServePath: "/a.js"},
			{Source: []byte("A = 1;"), ServePath: "/copy.js"},
		},
	}
	for range 3 {
		if _, err := l.Prelink(in); err != nil {
			t.Fatal(err)
		}
	}
	if got := a.calls.Load(); got != 1 {
		t.Errorf("analyzer called %d times, want 1", got)
	}
}

func TestBanner(t *testing.T) {
	got := banner([]string{"a.js", "this line is far too long"}, 16)
	want := "////////////////\n" +
		"//            //\n" +
		"// a.js       //\n" +
		"// this line  //\n" +
		"//            //\n" +
		"////////////////\n"
	if got != want {
		t.Errorf("banner =\n%s\nwant\n%s", got, want)
	}
}

func TestWriteVLQ(t *testing.T) {
	tests := map[int]string{0: "A", 1: "C", -1: "D", 15: "e", 16: "gB", -16: "hB", 1000: "w+B"}
	for v, want := range tests {
		var sb strings.Builder
		writeVLQ(&sb, v)
		if sb.String() != want {
			t.Errorf("writeVLQ(%d) = %q, want %q", v, sb.String(), want)
		}
	}
}
