// Package buildcache builds packages on demand and keeps their artifacts.
//
// A package is served from memory while its ChangeSet still holds, then
// from its on-disk artifact if the artifact was written by the same
// builder version and its ChangeSet still holds, and is rebuilt from
// source otherwise. Rebuilt packages without build errors are written
// back through a Stager, so an interrupted write never replaces a good
// artifact with a partial one.
package buildcache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/albertocavalcante/forge/internal/log"
	"github.com/albertocavalcante/forge/pkg/buildmsg"
	"github.com/albertocavalcante/forge/pkg/changeset"
	"github.com/albertocavalcante/forge/pkg/compiler"
	"github.com/albertocavalcante/forge/pkg/stager"
	"github.com/albertocavalcante/forge/pkg/unit"
	"github.com/albertocavalcante/forge/pkg/watch"
)

// BuilderVersion is recorded in every artifact. Artifacts written by a
// different version are rebuilt.
const BuilderVersion = "forge-builder-1"

// DefaultMemorySize is the number of packages kept in memory.
const DefaultMemorySize = 256

// Origin says where a Result came from.
type Origin string

const (
	FromMemory Origin = "memory"
	FromDisk   Origin = "disk"
	FromSource Origin = "source"
)

// Result is a built package.
type Result struct {
	Package *unit.Package

	// ChangeSet is the union of the unit ChangeSets.
	ChangeSet *changeset.ChangeSet

	// Messages holds the recoverable build errors. It is empty unless
	// Origin is FromSource.
	Messages *buildmsg.Messages

	Origin Origin
}

// Status describes the cached artifact of a package.
type Status struct {
	Name     string `json:"name"`
	Cached   bool   `json:"cached"`
	UpToDate bool   `json:"upToDate"`
	Reason   string `json:"reason,omitempty"`
}

// Stats counts how requests were served.
type Stats struct {
	MemoryHits int
	DiskHits   int
	Builds     int
}

// Cache builds and caches packages. It is safe for concurrent use;
// concurrent requests for one package share a single build.
type Cache struct {
	compiler *compiler.Compiler
	dir      string
	version  string

	memory *lru.Cache[string, *Result]
	group  singleflight.Group
	log    *slog.Logger

	mu    sync.Mutex
	stats Stats
}

var _ unit.Loader = (*Cache)(nil)

// Option configures a Cache.
type Option func(*cacheOptions)

type cacheOptions struct {
	version    string
	memorySize int
}

// WithBuilderVersion overrides BuilderVersion.
func WithBuilderVersion(v string) Option {
	return func(o *cacheOptions) { o.version = v }
}

// WithMemorySize sets how many packages are kept in memory.
func WithMemorySize(n int) Option {
	return func(o *cacheOptions) { o.memorySize = n }
}

// New creates a Cache that stores artifacts under dir.
func New(c *compiler.Compiler, dir string, opts ...Option) (*Cache, error) {
	o := cacheOptions{version: BuilderVersion, memorySize: DefaultMemorySize}
	for _, opt := range opts {
		opt(&o)
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	memory, err := lru.New[string, *Result](max(o.memorySize, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to create package cache: %w", err)
	}
	return &Cache{
		compiler: c,
		dir:      dir,
		version:  o.version,
		memory:   memory,
		log:      log.Component("buildcache"),
	}, nil
}

// Dir returns the artifact directory.
func (c *Cache) Dir() string { return c.dir }

// Stats returns the request counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Package returns the built package called name. It implements
// unit.Loader; build errors are left in the Result of Build.
func (c *Cache) Package(name string) (*unit.Package, error) {
	res, err := c.Build(name)
	if err != nil {
		return nil, err
	}
	return res.Package, nil
}

// Build returns the package called name, building it if no valid cached
// copy exists.
func (c *Cache) Build(name string) (*Result, error) {
	if res, ok := c.memory.Get(name); ok && watch.IsUpToDate(res.ChangeSet) {
		c.count(func(s *Stats) { s.MemoryHits++ })
		c.log.Debug("cache hit", "package", name, "origin", FromMemory)
		return res, nil
	}
	v, err, _ := c.group.Do(name, func() (any, error) {
		return c.load(name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (c *Cache) load(name string) (*Result, error) {
	srcDir, ok := c.compiler.Catalog().Dir(name)
	if !ok {
		return nil, &Error{Kind: ErrUnknownPackage, Op: "build", Path: name}
	}
	artifact, err := c.artifactDir(name)
	if err != nil {
		return nil, err
	}

	info, reason := c.validate(artifact, srcDir)
	if reason == "" {
		p, err := readArtifact(artifact, info.ChangeSet)
		if err == nil {
			res := &Result{Package: p, ChangeSet: info.ChangeSet, Messages: buildmsg.New("loading " + name), Origin: FromDisk}
			c.memory.Add(name, res)
			c.count(func(s *Stats) { s.DiskHits++ })
			c.log.Debug("cache hit", "package", name, "origin", FromDisk)
			return res, nil
		}
		if !errors.Is(err, ErrMalformedArtifact) {
			return nil, err
		}
		reason = err.Error()
	}
	c.log.Debug("cache miss", "package", name, "reason", reason)

	msgs := buildmsg.New("building " + name)
	p, err := c.compiler.Load(srcDir, msgs)
	if err != nil {
		return nil, err
	}
	if p.Name != name && p.Name != "" {
		c.log.Debug("manifest name differs from catalog name", "catalog", name, "manifest", p.Name)
	}
	if err := c.compiler.Build(p, msgs); err != nil {
		return nil, err
	}
	cs := p.ChangeSet()
	c.count(func(s *Stats) { s.Builds++ })

	if msgs.HasMessages() {
		c.log.Debug("not caching build with errors", "package", name, "errors", msgs.Len())
	} else if err := c.persist(artifact, p, cs); err != nil {
		return nil, err
	}
	res := &Result{Package: p, ChangeSet: cs, Messages: msgs, Origin: FromSource}
	c.memory.Add(name, res)
	return res, nil
}

// validate returns the artifact's build info, or the reason it cannot be
// used.
func (c *Cache) validate(artifact, srcDir string) (*buildInfoJSON, string) {
	info, err := readBuildInfo(artifact)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, "no artifact"
	case err != nil:
		return nil, err.Error()
	case info.BuilderVersion != c.version:
		return nil, fmt.Sprintf("builder version %q, want %q", info.BuilderVersion, c.version)
	}
	var pj packageJSON
	if err := readJSON(artifact, PackageFile, &pj); err != nil {
		return nil, err.Error()
	}
	if abs, err := filepath.Abs(srcDir); err == nil && pj.Dir != abs {
		return nil, "source directory moved"
	}
	if !watch.IsUpToDate(info.ChangeSet) {
		return nil, "sources changed"
	}
	return info, ""
}

func (c *Cache) persist(artifact string, p *unit.Package, cs *changeset.ChangeSet) error {
	if err := os.MkdirAll(filepath.Dir(artifact), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	s, err := stager.New(artifact)
	if err != nil {
		return err
	}
	if err := writeArtifact(s, p, cs, c.version); err != nil {
		_ = s.Abort()
		return fmt.Errorf("failed to stage artifact for %s: %w", artifact, err)
	}
	if err := s.Complete(); err != nil {
		return err
	}
	c.log.Debug("wrote artifact", "path", artifact)
	return nil
}

// Status reports whether the on-disk artifact of name is valid, without
// building anything.
func (c *Cache) Status(name string) (Status, error) {
	st := Status{Name: name}
	srcDir, ok := c.compiler.Catalog().Dir(name)
	if !ok {
		return st, &Error{Kind: ErrUnknownPackage, Op: "status", Path: name}
	}
	artifact, err := c.artifactDir(name)
	if err != nil {
		return st, err
	}
	_, reason := c.validate(artifact, srcDir)
	st.Cached = reason != "no artifact"
	st.UpToDate = reason == ""
	st.Reason = reason
	return st, nil
}

// Invalidate drops the in-memory copy of name.
func (c *Cache) Invalidate(name string) {
	c.memory.Remove(name)
}

// Clean removes every artifact and empties the memory cache.
func (c *Cache) Clean() error {
	c.memory.Purge()
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", c.dir, err)
	}
	return nil
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._:\-@#]`)

func (c *Cache) artifactDir(name string) (string, error) {
	safe := unsafeName.ReplaceAllString(name, "_")
	if safe == "" || strings.Trim(safe, ".") == "" {
		return "", &Error{Kind: ErrMalformedArtifact, Op: "build", Path: name, Msg: "package name cannot name a directory"}
	}
	return filepath.Join(c.dir, safe), nil
}

func (c *Cache) count(f func(*Stats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}
