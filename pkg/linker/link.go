package linker

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/albertocavalcante/forge/pkg/util"
)

// GlobalImportsServePath is the conventional serve path of the import stub
// emitted for global-namespace units.
const GlobalImportsServePath = "/packages/global-imports.js"

// PackageVariable is a package-scope variable of a linked unit.
type PackageVariable struct {
	Name   string
	Export bool
}

// LinkOptions configures Link.
type LinkOptions struct {
	// Name is the package name. Units without one export nothing.
	Name string

	// Imports maps each imported symbol to its package.
	Imports map[string]string

	PackageVariables []PackageVariable

	// UseGlobalNamespace must match the value given to Prelink.
	UseGlobalNamespace bool

	// ImportStubServePath names the import stub of a global-namespace
	// unit. Defaults to GlobalImportsServePath.
	ImportStubServePath string

	// PrelinkFiles is PrelinkResult.Files.
	PrelinkFiles []OutputFile

	// IncludeSourceMapInstructions adds a banner explaining source maps to
	// files that have one.
	IncludeSourceMapInstructions bool
}

var sourceMapInstructions = banner([]string{
	"This is a generated file. You can view the original",
	"source in your browser if your browser supports source maps.",
}, 73)

// Link wraps prelinked files with the import header and export footer.
// Global-namespace units get a leading import stub instead, and their
// files pass through unchanged.
func Link(opts LinkOptions) ([]OutputFile, error) {
	if opts.UseGlobalNamespace {
		var out []OutputFile
		if len(opts.Imports) > 0 {
			stub := opts.ImportStubServePath
			if stub == "" {
				stub = GlobalImportsServePath
			}
			out = append(out, OutputFile{
				Source:    importCode(opts.Imports, "/* Imports for global scope */\n\n", true),
				ServePath: stub,
			})
		}
		return append(out, opts.PrelinkFiles...), nil
	}

	hdr := header(opts.Imports, opts.PackageVariables)
	var exported []string
	for _, v := range opts.PackageVariables {
		if v.Export {
			exported = append(exported, v.Name)
		}
	}
	ftr := footer(opts.Name, exported)

	mapHeader := hdr
	if opts.IncludeSourceMapInstructions {
		mapHeader = sourceMapInstructions + "\n\n" + hdr
	}
	shift := strings.Count(mapHeader, "\n")

	out := make([]OutputFile, 0, len(opts.PrelinkFiles))
	for _, f := range opts.PrelinkFiles {
		if f.SourceMap == "" {
			out = append(out, OutputFile{Source: hdr + f.Source + ftr, ServePath: f.ServePath})
			continue
		}
		sm, err := ParseSourceMap(f.SourceMap)
		if err != nil {
			return nil, fmt.Errorf("failed to parse source map for %s: %w", f.ServePath, err)
		}
		sm.ShiftLines(shift)
		out = append(out, OutputFile{
			Source:    mapHeader + f.Source + ftr,
			ServePath: f.ServePath,
			SourceMap: sm.String(),
		})
	}
	return out, nil
}

func header(imports map[string]string, vars []PackageVariable) string {
	var sb strings.Builder
	sb.WriteString("(function () {\n\n")
	sb.WriteString(importCode(imports, "/* Imports */\n", false))
	if len(vars) > 0 {
		names := make([]string, len(vars))
		for i, v := range vars {
			names[i] = v.Name
		}
		sb.WriteString("/* Package-scope variables */\n")
		sb.WriteString("var " + strings.Join(names, ", ") + ";\n\n")
	}
	return sb.String()
}

func footer(name string, exported []string) string {
	var sb strings.Builder
	if name != "" {
		sb.WriteString("\n\n/* Exports */\n")
		sb.WriteString("if (typeof Package === 'undefined') Package = {};\n")
		sb.WriteString(PackageDot(name) + " = ")
		// Package.name must exist even with no exports; weak users test
		// for it.
		if len(exported) == 0 {
			sb.WriteString("{};\n")
		} else {
			scratch := make(map[string]string, len(exported))
			for _, s := range exported {
				scratch[s] = s
			}
			sb.WriteString(buildSymbolTree(scratch).write(0))
			sb.WriteString(";\n")
		}
	}
	sb.WriteString("\n})();\n")
	return sb.String()
}

func importCode(imports map[string]string, hdr string, omitVar bool) string {
	if len(imports) == 0 {
		return ""
	}
	scratch := make(map[string]string, len(imports))
	for symbol, pkg := range imports {
		scratch[symbol] = PackageDot(pkg) + "." + symbol
	}
	tree := buildSymbolTree(scratch)

	var sb strings.Builder
	sb.WriteString(hdr)
	for _, key := range tree.keys() {
		if !omitVar {
			sb.WriteString("var ")
		}
		sb.WriteString(key + " = " + tree.children[key].write(0) + ";\n")
	}
	sb.WriteString("\n")
	return sb.String()
}

var identName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]*$`)

// PackageDot returns the expression naming a package's export object.
func PackageDot(name string) string {
	if identName.MatchString(name) {
		return "Package." + name
	}
	return "Package['" + name + "']"
}

// symbolTree nests dotted symbols: {"A.B": x, "A.C": y} becomes
// {A: {B: x, C: y}}. A node is a leaf when value is set.
type symbolTree struct {
	value    string
	children map[string]*symbolTree
}

func buildSymbolTree(symbols map[string]string) *symbolTree {
	root := &symbolTree{children: map[string]*symbolTree{}}
symbols:
	for _, symbol := range util.SortedKeys(symbols) {
		parts := strings.Split(symbol, ".")
		node := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := node.children[part]
			if !ok {
				child = &symbolTree{children: map[string]*symbolTree{}}
				node.children[part] = child
			}
			// A leaf cannot also hold children.
			if child.value != "" {
				continue symbols
			}
			node = child
		}
		node.children[parts[len(parts)-1]] = &symbolTree{value: symbols[symbol]}
	}
	return root
}

func (t *symbolTree) keys() []string {
	keys := make([]string, 0, len(t.children))
	for k := range t.children {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (t *symbolTree) write(indent int) string {
	if t.value != "" {
		return t.value
	}
	if len(t.children) == 0 {
		return "{}"
	}
	spacing := strings.Repeat(" ", indent)
	entries := make([]string, 0, len(t.children))
	for _, k := range t.keys() {
		entries = append(entries, spacing+"  "+k+": "+t.children[k].write(indent+2))
	}
	return "{\n" + strings.Join(entries, ",\n") + "\n" + spacing + "}"
}
