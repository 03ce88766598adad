package stager

import (
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// sanitizeRune maps characters outside [a-zA-Z0-9._:\-@#] to '_'.
func sanitizeRune(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return r
	case strings.ContainsRune("._:-@#", r):
		return r
	}
	return '_'
}

func allDots(s string) bool {
	return s != "" && strings.Trim(s, ".") == ""
}

// trimRel converts relPath to slash form without a trailing slash.
func trimRel(relPath string) string {
	return strings.TrimRight(filepath.ToSlash(relPath), "/")
}

// cleanRel validates a caller-chosen relative path.
func cleanRel(relPath string) (string, error) {
	rel := trimRel(relPath)
	if rel == "" {
		return "", traversalf(relPath, "empty path")
	}
	if path.IsAbs(rel) {
		return "", traversalf(relPath, "absolute path")
	}
	rel = path.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", traversalf(relPath, "escapes the output directory")
	}
	return rel, nil
}

func joinRel(prefix, rel string) string {
	if prefix == "" || prefix == "." {
		return rel
	}
	return prefix + "/" + rel
}

// sanitize rewrites relPath (interpreted under prefix) into a safe, unused
// name and returns it relative to prefix. Every segment loses disallowed
// characters. Intermediate segments may reuse an existing directory; the
// last segment is always made unique by inserting a numeric suffix before
// its extension.
func (s *Stager) sanitize(prefix, relPath string, isDir bool) (string, error) {
	rel := trimRel(relPath)
	var parts []string
	for _, p := range strings.Split(rel, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", traversalf(relPath, "empty path")
	}

	out := make([]string, 0, len(parts))
	for i, part := range parts {
		if allDots(part) {
			return "", traversalf(relPath, "forbidden segment %q", part)
		}
		part = strings.Map(sanitizeRune, part)

		last := i == len(parts)-1
		base, ext := part, ""
		if last && !isDir {
			if j := strings.LastIndexByte(part, '.'); j >= 0 {
				base, ext = part[:j], part[j:]
			}
		}

		parent := prefix
		if len(out) > 0 {
			parent = joinRel(prefix, strings.Join(out, "/"))
		}
		for n := 0; ; n++ {
			name := base + ext
			if n > 0 {
				name = base + strconv.Itoa(n) + ext
			}
			isFile, used := s.usedAsFile[joinRel(parent, name)]
			if !used || (!last && !isFile) {
				out = append(out, name)
				break
			}
		}
	}
	return strings.Join(out, "/"), nil
}
