package changeset

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a regular expression matched against a single directory entry
// name. Subdirectory names carry a trailing "/", so `/$` selects directories
// and `\.js$` selects JavaScript files.
type Pattern struct {
	re      *regexp.Regexp
	source  string
	options string
}

// Compile parses a pattern with no options.
func Compile(source string) (Pattern, error) {
	return CompileWithOptions(source, "")
}

// CompileWithOptions parses a pattern with JavaScript-style flags. "i" and
// "m" map to the RE2 flags of the same name; "g" is accepted and ignored.
func CompileWithOptions(source, options string) (Pattern, error) {
	var flags strings.Builder
	for _, o := range options {
		switch o {
		case 'i', 'm':
			flags.WriteRune(o)
		case 'g':
		default:
			return Pattern{}, fmt.Errorf("unsupported pattern option %q in %q", o, options)
		}
	}

	expr := source
	if flags.Len() > 0 {
		expr = "(?" + flags.String() + ")" + source
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid pattern %q: %w", source, err)
	}
	return Pattern{re: re, source: source, options: options}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(source string) Pattern {
	p, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return p
}

// MustCompileAll compiles every source with MustCompile.
func MustCompileAll(sources ...string) []Pattern {
	out := make([]Pattern, len(sources))
	for i, s := range sources {
		out[i] = MustCompile(s)
	}
	return out
}

// MatchString reports whether name matches. The zero Pattern matches nothing.
func (p Pattern) MatchString(name string) bool {
	return p.re != nil && p.re.MatchString(name)
}

// Source returns the expression without flags.
func (p Pattern) Source() string { return p.source }

// Options returns the flags the pattern was compiled with.
func (p Pattern) Options() string { return p.options }

func (p Pattern) String() string {
	if p.options == "" {
		return "/" + p.source + "/"
	}
	return "/" + p.source + "/" + p.options
}

type patternJSON struct {
	Regex   string `json:"$regex"`
	Options string `json:"$options"`
}

// MarshalJSON writes a bare string, or {"$regex","$options"} when the
// pattern has flags.
func (p Pattern) MarshalJSON() ([]byte, error) {
	if p.options == "" {
		return json.Marshal(p.source)
	}
	return json.Marshal(patternJSON{Regex: p.source, Options: p.options})
}

// UnmarshalJSON accepts both forms written by MarshalJSON.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	var source string
	if err := json.Unmarshal(data, &source); err == nil {
		compiled, err := Compile(source)
		if err != nil {
			return err
		}
		*p = compiled
		return nil
	}

	var obj patternJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("pattern must be a string or {$regex, $options}: %w", err)
	}
	compiled, err := CompileWithOptions(obj.Regex, obj.Options)
	if err != nil {
		return err
	}
	*p = compiled
	return nil
}

// Filter reports whether name matches at least one include pattern and no
// exclude pattern.
func Filter(name string, include, exclude []Pattern) bool {
	matched := false
	for _, p := range include {
		if p.MatchString(name) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, p := range exclude {
		if p.MatchString(name) {
			return false
		}
	}
	return true
}
