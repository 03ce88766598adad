package handler

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtension(t *testing.T) {
	tests := map[string][]string{
		"a.js":           {"js"},
		"lib/a.min.js":   {"min.js", "js"},
		"x.tar.gz":       {"tar.gz", "gz"},
		".gitignore":     nil,
		"dir.d/Makefile": nil,
		"dir/.env.local": {"local"},
	}
	for path, want := range tests {
		if diff := cmp.Diff(want, Extension(path)); diff != "" {
			t.Errorf("Extension(%q) mismatch (-want +got):\n%s", path, diff)
		}
	}
}

func TestActiveSet(t *testing.T) {
	s := NewActiveSet()
	if errs := s.AddDefaults(NewJavaScript(), ""); errs != nil {
		t.Fatal(errs)
	}
	if err := s.Add("min.js", NewAsset(), "minifier"); err != nil {
		t.Fatal(err)
	}

	h, ext, ok := s.Lookup("lib/app.min.js")
	if !ok || h.Name() != "asset" || ext != "min.js" {
		t.Errorf("Lookup(app.min.js) = %v, %q, %v", h, ext, ok)
	}
	h, ext, ok = s.Lookup("lib/app.js")
	if !ok || h.Name() != "javascript" || ext != "js" {
		t.Errorf("Lookup(app.js) = %v, %q, %v", h, ext, ok)
	}
	if _, _, ok := s.Lookup("README"); ok {
		t.Error("Lookup(README) found a handler")
	}
	if diff := cmp.Diff([]string{"js", "min.js"}, s.Extensions()); diff != "" {
		t.Errorf("Extensions mismatch (-want +got):\n%s", diff)
	}
}

func TestActiveSetConflict(t *testing.T) {
	s := NewActiveSet()
	if err := s.Add("coffee", NewJavaScript(), "coffeescript"); err != nil {
		t.Fatal(err)
	}
	// Same handler from the same plugin seen twice.
	if err := s.Add("coffee", NewJavaScript(), "coffeescript"); err != nil {
		t.Errorf("re-adding the same claim: %v", err)
	}

	err := s.Add("coffee", NewAsset(), "other")
	if !errors.Is(err, ErrHandlerConflict) {
		t.Fatalf("err = %v, want ErrHandlerConflict", err)
	}
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("err is %T", err)
	}
	want := &ConflictError{Extension: "coffee", First: "javascript (from coffeescript)", Second: "asset (from other)"}
	if diff := cmp.Diff(want, ce); diff != "" {
		t.Errorf("ConflictError mismatch (-want +got):\n%s", diff)
	}

	// The first claim stays.
	if h, _, _ := s.Lookup("a.coffee"); h.Name() != "javascript" {
		t.Errorf("Lookup after conflict = %s", h.Name())
	}
}

func TestJavaScript(t *testing.T) {
	in := Input{Source: []byte("x = 1;"), Path: "a.js", ServePath: "/packages/p/a.js", Arch: "os"}
	out := NewJavaScript().Compile(in)
	want := Output{Code: []Code{{Source: in.Source, ServePath: "/packages/p/a.js"}}}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("Compile mismatch (-want +got):\n%s", diff)
	}

	in.Options = map[string]any{"bare": true}
	if out := NewJavaScript().Compile(in); !out.Code[0].Bare {
		t.Error("bare option ignored")
	}

	in.Options = map[string]any{"bare": "yes"}
	out = NewJavaScript().Compile(in)
	if len(out.Errors) != 1 || out.Code[0].Bare {
		t.Errorf("malformed option: %+v", out)
	}
}

func TestAsset(t *testing.T) {
	in := Input{Source: []byte{0x89, 'P'}, Path: "img/logo.png", ServePath: "/packages/p/img/logo.png"}
	want := Output{Resources: []Resource{{Type: TypeAsset, Data: in.Source, ServePath: in.ServePath, Path: in.Path}}}
	if diff := cmp.Diff(want, NewAsset().Compile(in)); diff != "" {
		t.Errorf("Compile mismatch (-want +got):\n%s", diff)
	}
}

func TestCSS(t *testing.T) {
	src := []byte("body { color: red; }\n")
	if out := NewCSS().Compile(Input{Source: src, Arch: "os.linux.x86_64"}); len(out.Resources)+len(out.Errors) != 0 {
		t.Errorf("server CSS produced output: %+v", out)
	}
	out := NewCSS().Compile(Input{Source: src, Arch: "web.browser", ServePath: "/style.css"})
	want := Output{Resources: []Resource{{Type: TypeCSS, Data: src, ServePath: "/style.css"}}}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("Compile mismatch (-want +got):\n%s", diff)
	}
}

func TestHTML(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []Resource
	}{
		{
			name: "head and body",
			src:  "<head><title>x</title></head>\n<body class=\"a\">\n<p>hi</p>\n</body>\n",
			want: []Resource{
				{Type: TypeHead, Data: []byte("<title>x</title>")},
				{Type: TypeBody, Data: []byte("\n<p>hi</p>\n")},
			},
		},
		{
			name: "comment",
			src:  "<!-- layout -->\n<head></head>",
			want: []Resource{{Type: TypeHead, Data: []byte{}}},
		},
		{
			name: "empty",
			src:  "  \n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewHTML().Compile(Input{Source: []byte(tt.src), Arch: "web.browser"})
			if len(out.Errors) > 0 {
				t.Fatalf("errors: %+v", out.Errors)
			}
			if diff := cmp.Diff(tt.want, out.Resources, cmp.Comparer(func(a, b []byte) bool { return string(a) == string(b) })); diff != "" {
				t.Errorf("resources mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHTMLErrors(t *testing.T) {
	tests := []struct {
		src  string
		want Diagnostic
	}{
		{"<div></div>", Diagnostic{Line: 1, Column: 1, Message: "expected <head> or <body> tag, found <div>"}},
		{"\n  hello", Diagnostic{Line: 2, Column: 3, Message: "unexpected text outside of <head> or <body>"}},
	}
	for _, tt := range tests {
		out := NewHTML().Compile(Input{Source: []byte(tt.src), Arch: "web.browser"})
		if diff := cmp.Diff([]Diagnostic{tt.want}, out.Errors); diff != "" {
			t.Errorf("Compile(%q) errors mismatch (-want +got):\n%s", tt.src, diff)
		}
		if len(out.Resources) != 0 {
			t.Errorf("Compile(%q) produced resources", tt.src)
		}
	}

	out := NewHTML().Compile(Input{Source: []byte("<head><title>x</title>"), Arch: "web.browser"})
	if len(out.Errors) == 0 {
		t.Error("unclosed <head> accepted")
	}
}

func TestScanTextFallback(t *testing.T) {
	var out Output
	got := scanText([]byte("<!DOCTYPE html>\n<BODY>a</Body >"), &out)
	if len(out.Errors) > 0 {
		t.Fatal(out.Errors)
	}
	want := []section{{tag: "body", content: []byte("a")}}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(section{})); diff != "" {
		t.Errorf("scanText mismatch (-want +got):\n%s", diff)
	}
}
