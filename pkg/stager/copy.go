package stager

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/albertocavalcante/forge/pkg/watch"
	"github.com/bmatcuk/doublestar/v4"
)

// CopyOptions configures CopyDirectory.
type CopyOptions struct {
	// Ignore holds doublestar patterns matched against slash-separated
	// paths relative to the source root. Directories are matched with a
	// trailing "/". A pattern without any other "/" matches the base name
	// at any depth.
	Ignore []string

	// Symlink links the whole directory instead of copying it, when the
	// destination is not already in use.
	Symlink bool
}

// CopyDirectory copies the tree at from into the stager at to. Symlinks in
// the source are followed. Copied files are fingerprinted into the
// stager's ChangeSet.
func (s *Stager) CopyDirectory(from, to string, opts CopyOptions) error {
	return s.copyDirectory("", from, to, opts)
}

func (s *Stager) copyDirectory(prefix, from, to string, opts CopyOptions) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, p := range opts.Ignore {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid ignore pattern %q", p)
		}
	}
	_, full, err := s.resolve(prefix, to, false, true)
	if err != nil {
		return err
	}
	src, err := filepath.Abs(from)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", from, err)
	}

	if opts.Symlink {
		isFile, used := s.usedAsFile[full]
		if used && isFile {
			return conflictf(full, "already a file")
		}
		if !used {
			if err := s.ensureDirectory(path.Dir(full)); err != nil {
				return err
			}
			if err := symlinkWithOverwrite(src, s.abs(full)); err != nil {
				return err
			}
			// A symlink cannot have anything placed under it.
			s.usedAsFile[full] = true
			return nil
		}
	}

	return s.copyTree(src, "", full, opts.Ignore, make(map[string]bool))
}

// copyTree copies absFrom into relTo. seen holds the resolved paths of the
// directories being copied, so a symlink back to one of them is skipped.
func (s *Stager) copyTree(absFrom, relFrom, relTo string, ignore []string, seen map[string]bool) error {
	if real, err := filepath.EvalSymlinks(absFrom); err == nil {
		if seen[real] {
			return nil
		}
		seen[real] = true
		defer delete(seen, real)
	}
	if err := s.ensureDirectory(relTo); err != nil {
		return err
	}
	entries, err := os.ReadDir(absFrom)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", absFrom, err)
	}

	for _, e := range entries {
		name := e.Name()
		src := filepath.Join(absFrom, name)
		info, err := os.Stat(src)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to stat %s: %w", src, err)
		}

		rel := path.Join(relFrom, name)
		if info.IsDir() {
			if ignored(ignore, rel+"/", name+"/") {
				continue
			}
			if err := s.copyTree(src, rel, joinRel(relTo, name), ignore, seen); err != nil {
				return err
			}
			continue
		}
		if ignored(ignore, rel, name) {
			continue
		}

		dest := joinRel(relTo, name)
		if isFile, used := s.usedAsFile[dest]; used && !isFile {
			return conflictf(dest, "already a directory")
		}
		data, err := watch.ReadAndWatchFile(s.changes, src)
		if err != nil {
			return err
		}
		if data == nil {
			continue
		}
		mode := fs.FileMode(0o444)
		if info.Mode()&0o100 != 0 {
			mode = 0o555
		}
		if err := writeFileAtomic(s.abs(dest), data, mode); err != nil {
			return fmt.Errorf("failed to copy %s: %w", src, err)
		}
		s.usedAsFile[dest] = true
	}
	return nil
}

func ignored(patterns []string, rel, base string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if !strings.Contains(strings.TrimSuffix(p, "/"), "/") {
			if ok, _ := doublestar.Match(p, base); ok {
				return true
			}
		}
	}
	return false
}
