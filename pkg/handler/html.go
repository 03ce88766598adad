package handler

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/albertocavalcante/forge/pkg/treesitter"
)

// HTML splits top-level <head> and <body> elements into head and body
// resources. Anything else at the top level, other than comments and
// whitespace, is an error.
type HTML struct {
	parser *lazyParser
}

func NewHTML() Handler { return &HTML{parser: newLazyParser(treesitter.HTML)} }

func (*HTML) Name() string         { return "html" }
func (*HTML) Extensions() []string { return []string{"html"} }

type section struct {
	tag     string
	content []byte
}

func (h *HTML) Compile(in Input) Output {
	var out Output
	var sections []section
	tree, err := h.parser.parse(in.Source)
	if err == nil {
		sections = scanTree(tree, in.Source, &out)
		tree.Close()
	} else {
		sections = scanText(in.Source, &out)
	}
	if len(out.Errors) > 0 {
		return out
	}
	for _, s := range sections {
		typ := TypeHead
		if s.tag == "body" {
			typ = TypeBody
		}
		out.Resources = append(out.Resources, Resource{Type: typ, Data: s.content})
	}
	return out
}

func scanTree(tree treesitter.Tree, src []byte, out *Output) []section {
	var sections []section
	for _, n := range treesitter.NamedChildren(tree.RootNode()) {
		switch n.Type() {
		case "comment", "doctype":
			continue
		case "text":
			if len(bytes.TrimSpace([]byte(n.Content(src)))) == 0 {
				continue
			}
			line, col := nodePosition(n)
			out.Errorf(line, col, "unexpected text outside of <head> or <body>")
			return nil
		case "element":
			start := n.NamedChild(0)
			if start == nil || start.Type() != "start_tag" {
				line, col := nodePosition(n)
				out.Errorf(line, col, "malformed element")
				return nil
			}
			name := ""
			if tn := start.NamedChild(0); tn != nil && tn.Type() == "tag_name" {
				name = strings.ToLower(tn.Content(src))
			}
			if name != "head" && name != "body" {
				line, col := nodePosition(n)
				out.Errorf(line, col, "expected <head> or <body> tag, found <%s>", name)
				return nil
			}
			end := n.EndByte()
			if last := n.NamedChild(n.NamedChildCount() - 1); last != nil && last.Type() == "end_tag" {
				end = last.StartByte()
			} else {
				line, col := nodePosition(n)
				out.Errorf(line, col, "unclosed <%s>", name)
				return nil
			}
			sections = append(sections, section{tag: name, content: src[start.EndByte():end]})
		default:
			line, col := nodePosition(n)
			out.Errorf(line, col, "expected <head> or <body> tag, found %s", n.Type())
			return nil
		}
	}
	return sections
}

var openTag = regexp.MustCompile(`^<([a-zA-Z][a-zA-Z0-9-]*)\b[^>]*>`)

// scanText is the fallback when tree-sitter is unavailable. It does not
// understand nesting of same-named tags.
func scanText(src []byte, out *Output) []section {
	var sections []section
	i := 0
	for {
		for i < len(src) && isSpace(src[i]) {
			i++
		}
		if i >= len(src) {
			return sections
		}
		rest := src[i:]
		if bytes.HasPrefix(rest, []byte("<!--")) {
			end := bytes.Index(rest, []byte("-->"))
			if end < 0 {
				line, col := position(src, i)
				out.Errorf(line, col, "unclosed comment")
				return nil
			}
			i += end + 3
			continue
		}
		if bytes.HasPrefix(rest, []byte("<!")) {
			// Doctype.
			if end := bytes.IndexByte(rest, '>'); end >= 0 {
				i += end + 1
				continue
			}
		}
		m := openTag.FindSubmatchIndex(rest)
		if m == nil {
			line, col := position(src, i)
			out.Errorf(line, col, "unexpected text outside of <head> or <body>")
			return nil
		}
		name := strings.ToLower(string(rest[m[2]:m[3]]))
		if name != "head" && name != "body" {
			line, col := position(src, i)
			out.Errorf(line, col, "expected <head> or <body> tag, found <%s>", name)
			return nil
		}
		closeTag := regexp.MustCompile(`(?i)</` + name + `\s*>`)
		body := rest[m[1]:]
		c := closeTag.FindIndex(body)
		if c == nil {
			line, col := position(src, i)
			out.Errorf(line, col, "unclosed <%s>", name)
			return nil
		}
		sections = append(sections, section{tag: name, content: body[:c[0]]})
		i += m[1] + c[1]
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
