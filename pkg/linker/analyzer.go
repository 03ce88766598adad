package linker

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
)

// Analyzer finds the variables a JavaScript file assigns without declaring
// them in any enclosing scope. Those become package-scope variables.
type Analyzer interface {
	Name() string

	// AssignedGlobals returns the sorted, de-duplicated names. A syntax
	// error is returned as *ParseError.
	AssignedGlobals(source []byte) ([]string, error)
}

// ParseError locates a syntax error. Line and Column are 1-indexed.
type ParseError struct {
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Msg)
}

// Analyzer kinds accepted by NewAnalyzer.
const (
	AnalyzerAuto       = "auto"
	AnalyzerTreeSitter = "treesitter"
	AnalyzerHeuristic  = "heuristic"
)

// NewAnalyzer returns the analyzer named by kind. "auto" prefers
// tree-sitter and falls back to the heuristic scanner.
func NewAnalyzer(kind string) (Analyzer, error) {
	switch kind {
	case "", AnalyzerAuto:
		if a, err := NewTreeSitterAnalyzer(); err == nil {
			return a, nil
		}
		return HeuristicAnalyzer{}, nil
	case AnalyzerTreeSitter:
		return NewTreeSitterAnalyzer()
	case AnalyzerHeuristic:
		return HeuristicAnalyzer{}, nil
	}
	return nil, fmt.Errorf("unknown analyzer %q (want auto, treesitter or heuristic)", kind)
}

// HeuristicAnalyzer scans tokens instead of parsing. It treats every
// declaration anywhere in the file as visible everywhere, so it can miss
// globals that are shadowed in some other function, and it reports only
// unbalanced brackets as syntax errors.
type HeuristicAnalyzer struct{}

func (HeuristicAnalyzer) Name() string { return AnalyzerHeuristic }

type token struct {
	text string
	line int
	col  int
}

func (HeuristicAnalyzer) AssignedGlobals(source []byte) ([]string, error) {
	toks, err := tokenize(string(source))
	if err != nil {
		return nil, err
	}

	declared := make(map[string]bool)
	for i, t := range toks {
		switch t.text {
		case "var", "let", "const":
			// var a = 1, b, {c} = d;
			depth := 0
			for j := i + 1; j < len(toks); j++ {
				s := toks[j].text
				if s == ";" || (depth == 0 && (s == "in" || s == "of")) {
					break
				}
				switch s {
				case "(", "[", "{":
					depth++
				case ")", "]", "}":
					depth--
				}
				if depth < 0 {
					break
				}
				if isIdent(s) && (j == i+1 || isDeclPrefix(toks[j-1].text)) {
					declared[s] = true
				}
				if s == "=" {
					j = skipInitializer(toks, j+1)
					if j < len(toks) && toks[j].text == "," {
						continue
					}
					break
				}
			}
		case "function", "class":
			if i+1 < len(toks) && isIdent(toks[i+1].text) {
				declared[toks[i+1].text] = true
			}
			if t.text == "function" {
				for _, p := range params(toks, i+1) {
					declared[p] = true
				}
			}
		case "catch":
			for _, p := range params(toks, i+1) {
				declared[p] = true
			}
		case "=>":
			if i > 0 && isIdent(toks[i-1].text) {
				declared[toks[i-1].text] = true
			} else if i > 0 && toks[i-1].text == ")" {
				if open := matchingOpen(toks, i-1); open >= 0 {
					for _, p := range params(toks, open) {
						declared[p] = true
					}
				}
			}
		}
	}

	seen := make(map[string]bool)
	var out []string
	for i, t := range toks {
		if !isIdent(t.text) || declared[t.text] || seen[t.text] {
			continue
		}
		if i > 0 && (toks[i-1].text == "." || toks[i-1].text == "?.") {
			continue
		}
		if i+1 >= len(toks) {
			continue
		}
		next := toks[i+1].text
		assigned := isAssignOp(next)
		if !assigned && (next == "++" || next == "--") {
			assigned = true
		}
		if !assigned && i > 0 && (toks[i-1].text == "++" || toks[i-1].text == "--") {
			assigned = true
		}
		if !assigned {
			continue
		}
		seen[t.text] = true
		out = append(out, t.text)
	}
	slices.Sort(out)
	return out, nil
}

func isDeclPrefix(s string) bool {
	return s == "," || s == "{" || s == "[" || s == ":" || s == "..."
}

// skipInitializer returns the index of the "," or ";" ending the
// initializer starting at i, at bracket depth zero.
func skipInitializer(toks []token, i int) int {
	depth := 0
	for ; i < len(toks); i++ {
		switch toks[i].text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			if depth == 0 {
				return i
			}
			depth--
		case ",", ";":
			if depth == 0 {
				return i
			}
		}
	}
	return i
}

// params returns identifiers at depth one of the parenthesized list that
// starts at or after i (skipping an optional function name).
func params(toks []token, i int) []string {
	for i < len(toks) && toks[i].text != "(" {
		if toks[i].text == "{" || toks[i].text == ";" {
			return nil
		}
		i++
	}
	var out []string
	depth := 0
	for ; i < len(toks); i++ {
		switch toks[i].text {
		case "(", "[", "{":
			depth++
			continue
		case ")", "]", "}":
			depth--
			if depth == 0 {
				return out
			}
			continue
		}
		if isIdent(toks[i].text) && isDeclPrefix(toks[i-1].text) || (isIdent(toks[i].text) && toks[i-1].text == "(") {
			out = append(out, toks[i].text)
		}
	}
	return out
}

func matchingOpen(toks []token, close int) int {
	depth := 0
	for i := close; i >= 0; i-- {
		switch toks[i].text {
		case ")":
			depth++
		case "(":
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isAssignOp(s string) bool {
	switch s {
	case "=", "+=", "-=", "*=", "/=", "%=", "**=", "<<=", ">>=", ">>>=", "&=", "|=", "^=", "&&=", "||=", "??=":
		return true
	}
	return false
}

var keywords = map[string]bool{
	"break": true, "case": true, "catch": true, "class": true, "const": true, "continue": true,
	"debugger": true, "default": true, "delete": true, "do": true, "else": true, "export": true,
	"extends": true, "finally": true, "for": true, "function": true, "if": true, "import": true,
	"in": true, "instanceof": true, "new": true, "return": true, "super": true, "switch": true,
	"this": true, "throw": true, "try": true, "typeof": true, "var": true, "void": true,
	"while": true, "with": true, "yield": true, "let": true, "static": true, "await": true,
	"async": true, "of": true, "null": true, "true": true, "false": true, "undefined": true,
}

func isIdent(s string) bool {
	if s == "" || keywords[s] {
		return false
	}
	for i, r := range s {
		if r == '_' || r == '$' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

var punctuators = []string{
	">>>=", "...", "===", "!==", "**=", "<<=", ">>=", ">>>", "&&=", "||=", "??=",
	"=>", "==", "!=", "<=", ">=", "&&", "||", "??", "?.", "++", "--", "+=", "-=", "*=", "/=",
	"%=", "&=", "|=", "^=", "**", "<<", ">>",
}

// tokenize splits JavaScript source into identifiers and punctuators,
// dropping comments, string, template and regular expression literals.
func tokenize(src string) ([]token, error) {
	var toks []token
	var stack []token
	line, col := 1, 1
	i := 0

	advance := func(n int) {
		for k := 0; k < n && i < len(src); k++ {
			if src[i] == '\n' {
				line++
				col = 1
			} else {
				col++
			}
			i++
		}
	}
	unterminated := func(what string, l, c int) error {
		return &ParseError{Line: l, Column: c, Msg: "unterminated " + what}
	}
	// regexAllowed reports whether a "/" here starts a regex literal.
	regexAllowed := func() bool {
		if len(toks) == 0 {
			return true
		}
		prev := toks[len(toks)-1].text
		if prev == ")" || prev == "]" || prev == "}" || prev == "++" || prev == "--" {
			return false
		}
		if isIdent(prev) || prev == "this" || prev == "super" || prev == "#lit" {
			return false
		}
		return true
	}

	for i < len(src) {
		c := src[i]
		switch {
		case c == '\n' || c == ' ' || c == '\t' || c == '\r':
			advance(1)
		case strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				advance(1)
			}
		case strings.HasPrefix(src[i:], "/*"):
			l, cc := line, col
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, unterminated("comment", l, cc)
			}
			advance(end + 4)
		case c == '"' || c == '\'' || c == '`':
			l, cc := line, col
			advance(1)
			closed := false
			for i < len(src) {
				if src[i] == '\\' {
					advance(2)
					continue
				}
				if src[i] == c {
					advance(1)
					closed = true
					break
				}
				if src[i] == '\n' && c != '`' {
					break
				}
				advance(1)
			}
			if !closed {
				return nil, unterminated("string", l, cc)
			}
			toks = append(toks, token{"#lit", l, cc})
		case c == '/' && regexAllowed():
			l, cc := line, col
			advance(1)
			inClass := false
			closed := false
			for i < len(src) && src[i] != '\n' {
				switch {
				case src[i] == '\\':
					advance(2)
					continue
				case src[i] == '[':
					inClass = true
				case src[i] == ']':
					inClass = false
				case src[i] == '/' && !inClass:
					closed = true
				}
				advance(1)
				if closed {
					break
				}
			}
			if !closed {
				return nil, unterminated("regular expression", l, cc)
			}
			for i < len(src) && isIdentByte(src[i]) {
				advance(1)
			}
			toks = append(toks, token{"#lit", l, cc})
		case isIdentByte(c) || c >= 0x80:
			l, cc := line, col
			start := i
			for i < len(src) && (isIdentByte(src[i]) || src[i] >= 0x80) {
				advance(1)
			}
			text := src[start:i]
			if c >= '0' && c <= '9' {
				text = "#lit"
			}
			toks = append(toks, token{text, l, cc})
		default:
			l, cc := line, col
			text := string(c)
			for _, p := range punctuators {
				if strings.HasPrefix(src[i:], p) {
					text = p
					break
				}
			}
			advance(len(text))
			t := token{text, l, cc}
			switch text {
			case "(", "[", "{":
				stack = append(stack, t)
			case ")", "]", "}":
				if len(stack) == 0 || !brackets(stack[len(stack)-1].text, text) {
					return nil, &ParseError{Line: l, Column: cc, Msg: fmt.Sprintf("unexpected %q", text)}
				}
				stack = stack[:len(stack)-1]
			}
			toks = append(toks, t)
		}
	}
	if len(stack) > 0 {
		open := stack[len(stack)-1]
		return nil, &ParseError{Line: open.line, Column: open.col, Msg: fmt.Sprintf("unclosed %q", open.text)}
	}
	return toks, nil
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func brackets(open, close string) bool {
	return open+close == "()" || open+close == "[]" || open+close == "{}"
}
