package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/albertocavalcante/forge/pkg/changeset"
)

// ReadDirectory lists d.Path filtered by d's patterns, in the form stored
// in changeset.Directory.Contents. Subdirectories end with "/". Entries are
// stat'ed (not lstat'ed), so a symlink to a directory counts as a directory,
// and entries that vanish between the listing and the stat are skipped.
//
// A missing directory, or a path that is not a directory, yields nil.
func ReadDirectory(d changeset.Directory) ([]string, error) {
	names, err := readFiltered(d.Path, d.Include, d.Exclude)
	if err != nil || names == nil || !d.Recursive {
		return names, err
	}

	seen := make(map[string]bool)
	if real, err := filepath.EvalSymlinks(d.Path); err == nil {
		seen[real] = true
	}

	out := slices.Clone(names)
	for _, name := range names {
		if !strings.HasSuffix(name, "/") {
			continue
		}
		sub, err := readTree(d, name, seen)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	slices.Sort(out)
	return out, nil
}

// readTree lists the kept entries below rel (a kept directory ending in
// "/"), returning paths relative to d.Path. A directory that resolves to
// one of its own ancestors is listed but not descended into.
func readTree(d changeset.Directory, rel string, seen map[string]bool) ([]string, error) {
	abs := filepath.Join(d.Path, filepath.FromSlash(rel))
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		if seen[real] {
			return nil, nil
		}
		seen[real] = true
		defer delete(seen, real)
	}

	names, err := readFiltered(abs, d.Include, d.Exclude)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, name := range names {
		child := path.Join(rel, name)
		if strings.HasSuffix(name, "/") {
			child += "/"
			out = append(out, child)
			sub, err := readTree(d, child, seen)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		out = append(out, child)
	}
	return out, nil
}

func readFiltered(dir string, include, exclude []changeset.Pattern) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			// Gone since ReadDir, or a dangling symlink.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", filepath.Join(dir, name), err)
		}
		if info.IsDir() {
			name += "/"
		}
		if changeset.Filter(name, include, exclude) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// ReadAndWatchDirectory lists d and records the listing in cs.
func ReadAndWatchDirectory(cs *changeset.ChangeSet, d changeset.Directory) ([]string, error) {
	contents, err := ReadDirectory(d)
	if err != nil {
		return nil, err
	}
	d.Contents = contents
	cs.AddDirectory(d)
	return contents, nil
}

// ReadAndWatchFile reads path and records its fingerprint in cs. A missing
// file (or a directory at that path) returns nil data and is recorded as
// changeset.Absent, so creating it later invalidates cs.
func ReadAndWatchFile(cs *changeset.ChangeSet, path string) ([]byte, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if data == nil {
		cs.AddFile(path, changeset.Absent)
		return nil, nil
	}
	cs.AddFile(path, changeset.HashBytes(data))
	return data, nil
}

// readFile returns nil, nil when path is missing or is a directory.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if data == nil {
			data = []byte{}
		}
		return data, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
		return nil, nil
	}
	return nil, fmt.Errorf("failed to read %s: %w", path, err)
}
