package stager

import "path"

// Sub is a view of a Stager rooted at a path prefix. Paths passed to it and
// names returned from it are relative to the prefix.
type Sub struct {
	owner  *Stager
	prefix string
}

var _ Writer = (*Sub)(nil)

func newSub(owner *Stager, parent, prefix string) *Sub {
	p := trimRel(prefix)
	if p != "" {
		p = path.Clean(p)
	}
	if p == "" || p == "." {
		return &Sub{owner: owner, prefix: parent}
	}
	return &Sub{owner: owner, prefix: joinRel(parent, p)}
}

// Prefix returns the view's location relative to the stager root.
func (s *Sub) Prefix() string { return s.prefix }

func (s *Sub) Write(relPath string, opts WriteOptions) (string, error) {
	return s.owner.write(s.prefix, relPath, opts)
}

func (s *Sub) WriteJSON(relPath string, v any) error {
	return s.owner.writeJSON(s.prefix, relPath, v)
}

func (s *Sub) Reserve(relPath string, opts ReserveOptions) (string, error) {
	return s.owner.reserve(s.prefix, relPath, opts)
}

func (s *Sub) GenerateUniqueName(relPath string, opts ReserveOptions) (string, error) {
	return s.owner.generateUniqueName(s.prefix, relPath, opts)
}

func (s *Sub) WriteToGeneratedFilename(relPath string, opts WriteOptions) (string, error) {
	return s.owner.writeToGeneratedFilename(s.prefix, relPath, opts)
}

func (s *Sub) CopyDirectory(from, to string, opts CopyOptions) error {
	return s.owner.copyDirectory(s.prefix, from, to, opts)
}

func (s *Sub) Enter(prefix string) *Sub {
	return newSub(s.owner, s.prefix, prefix)
}
