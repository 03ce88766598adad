package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/albertocavalcante/forge/internal/log"
	"github.com/albertocavalcante/forge/pkg/changeset"
	"github.com/albertocavalcante/forge/pkg/util"
	"github.com/albertocavalcante/forge/pkg/watch"
)

// SourceCatalog maps package names to source directories.
type SourceCatalog interface {
	// Dir returns the source directory of the named package.
	Dir(name string) (string, bool)

	// Names returns every known package name, sorted.
	Names() []string

	// ChangeSet records what the catalog was built from. It goes stale
	// when a package appears, disappears or is renamed.
	ChangeSet() *changeset.ChangeSet
}

// DirCatalog is a SourceCatalog built by scanning directories. Every
// immediate subdirectory with a manifest is a package, named by its
// manifest or, failing that, by the directory name.
type DirCatalog struct {
	roots []string

	mu    sync.RWMutex
	dirs  map[string]string
	added map[string]string
	cs    *changeset.ChangeSet
}

var _ SourceCatalog = (*DirCatalog)(nil)

var (
	subdirPatterns = changeset.MustCompileAll(`/$`)
	hiddenPatterns = changeset.MustCompileAll(`^\.`)
)

// ScanDirs scans roots in order. A package name found in an earlier root
// shadows the same name in later ones.
func ScanDirs(roots ...string) (*DirCatalog, error) {
	abs := make([]string, 0, len(roots))
	for _, root := range roots {
		r, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
		}
		abs = append(abs, r)
	}
	c := &DirCatalog{roots: abs, added: make(map[string]string)}
	dirs, cs, err := scanRoots(abs)
	if err != nil {
		return nil, err
	}
	c.dirs, c.cs = dirs, cs
	return c, nil
}

func scanRoots(roots []string) (map[string]string, *changeset.ChangeSet, error) {
	logger := log.Component("compiler")
	dirs := make(map[string]string)
	cs := changeset.New()
	for _, root := range roots {
		subdirs, err := watch.ReadAndWatchDirectory(cs, changeset.Directory{
			Path:    root,
			Include: subdirPatterns,
			Exclude: hiddenPatterns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan %s: %w", root, err)
		}
		for _, sub := range subdirs {
			base := strings.TrimSuffix(sub, "/")
			dir := filepath.Join(root, base)
			name, ok, err := scanPackage(cs, dir)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}
			if name == "" {
				name = base
			}
			if prev, ok := dirs[name]; ok {
				logger.Debug("package shadowed", "package", name, "dir", dir, "by", prev)
				continue
			}
			dirs[name] = dir
		}
	}
	logger.Debug("scanned packages", "roots", len(roots), "packages", len(dirs))
	return dirs, cs, nil
}

// scanPackage reads the manifest of dir into cs and returns the name it
// declares. Every manifest name ahead of the one found is recorded as
// absent.
func scanPackage(cs *changeset.ChangeSet, dir string) (string, bool, error) {
	for _, file := range ManifestNames {
		path := filepath.Join(dir, file)
		data, err := watch.ReadAndWatchFile(cs, path)
		if err != nil {
			return "", false, fmt.Errorf("failed to read manifest: %w", err)
		}
		if data == nil {
			continue
		}
		if m, err := ReadManifest(path, data); err == nil {
			return m.Name, true, nil
		}
		return "", true, nil
	}
	return "", false, nil
}

// Refresh rescans the roots if anything the catalog was built from has
// changed, and reports whether it did. Packages registered with Add are
// kept.
func (c *DirCatalog) Refresh() (bool, error) {
	c.mu.RLock()
	cs := c.cs
	c.mu.RUnlock()
	if cs == nil || watch.IsUpToDate(cs) {
		return false, nil
	}

	dirs, cs, err := scanRoots(c.roots)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, dir := range c.added {
		dirs[name] = dir
	}
	c.dirs, c.cs = dirs, cs
	return true, nil
}

// Add registers dir as the source of name, replacing any earlier entry.
func (c *DirCatalog) Add(name, dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirs == nil {
		c.dirs = make(map[string]string)
		c.added = make(map[string]string)
	}
	c.dirs[name] = dir
	c.added[name] = dir
}

func (c *DirCatalog) Dir(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dir, ok := c.dirs[name]
	return dir, ok
}

func (c *DirCatalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return util.SortedKeys(c.dirs)
}

// ChangeSet returns a copy of what the last scan read.
func (c *DirCatalog) ChangeSet() *changeset.ChangeSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cs == nil {
		return changeset.New()
	}
	return c.cs.Clone()
}

// FindManifest returns the manifest path in dir, if there is one.
func FindManifest(dir string) (string, bool) {
	for _, name := range ManifestNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}
