// Package stager writes build output into a private staging directory and
// publishes it atomically.
//
// A Stager tracks every relative path it hands out as either a file or a
// directory, so that sanitized names never collide and no file is ever
// placed under another file. Complete renames the staging tree onto the
// output path in one step; Abort discards it.
package stager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/albertocavalcante/forge/internal/log"
	"github.com/albertocavalcante/forge/pkg/changeset"
	"github.com/albertocavalcante/forge/pkg/watch"
)

// WriteOptions describes one file write. Exactly one of Data, File and
// Symlink must be set; a nil Data means "not set", so pass []byte{} for an
// empty file.
type WriteOptions struct {
	Data []byte

	// File is a path on disk to copy from. Its fingerprint is recorded in
	// the stager's ChangeSet.
	File string

	// Symlink creates a symbolic link pointing at this target.
	Symlink string

	Sanitize   bool
	Executable bool
}

// ReserveOptions selects whether a path is reserved as a directory.
type ReserveOptions struct {
	Directory bool
}

// Writer is implemented by Stager and by the views returned from Enter.
type Writer interface {
	Write(relPath string, opts WriteOptions) (string, error)
	WriteJSON(relPath string, v any) error
	Reserve(relPath string, opts ReserveOptions) (string, error)
	GenerateUniqueName(relPath string, opts ReserveOptions) (string, error)
	WriteToGeneratedFilename(relPath string, opts WriteOptions) (string, error)
	CopyDirectory(from, to string, opts CopyOptions) error
	Enter(prefix string) *Sub
}

// Stager builds a directory tree under a temporary name next to its output
// path. It is not safe for concurrent use.
type Stager struct {
	outputPath string
	buildPath  string

	// usedAsFile maps canonical relative paths to true for files and
	// false for directories.
	usedAsFile map[string]bool

	changes  *changeset.ChangeSet
	finished bool
}

var _ Writer = (*Stager)(nil)

// New creates the staging directory for outputPath. outputPath itself is
// not touched until Complete.
func New(outputPath string) (*Stager, error) {
	outputPath, err := filepath.Abs(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output path: %w", err)
	}
	s := &Stager{
		outputPath: outputPath,
		buildPath:  siblingPath(outputPath, ".build"),
		usedAsFile: map[string]bool{"": false, ".": false},
		changes:    changeset.New(),
	}

	if err := os.RemoveAll(s.buildPath); err != nil {
		return nil, fmt.Errorf("failed to clear staging directory: %w", err)
	}
	if err := os.MkdirAll(s.buildPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	log.Component("stager").Debug("staging", "output", outputPath, "build", s.buildPath)
	return s, nil
}

// siblingPath returns dir/<kind><nonce>.<base> for p = dir/base.
func siblingPath(p, kind string) string {
	return filepath.Join(filepath.Dir(p), fmt.Sprintf("%s%d.%s", kind, rand.IntN(999999), filepath.Base(p)))
}

// OutputPath returns the final location of the tree.
func (s *Stager) OutputPath() string { return s.outputPath }

// BuildPath returns the staging directory.
func (s *Stager) BuildPath() string { return s.buildPath }

// ChangeSet returns the fingerprints of every file read from disk.
func (s *Stager) ChangeSet() *changeset.ChangeSet { return s.changes }

func (s *Stager) abs(rel string) string {
	return filepath.Join(s.buildPath, filepath.FromSlash(rel))
}

func (s *Stager) checkOpen() error {
	if s.finished {
		return ErrFinished
	}
	return nil
}

// resolve turns a caller path under prefix into its path relative to
// prefix and its full relative path.
func (s *Stager) resolve(prefix, relPath string, sanitize, isDir bool) (rel, full string, err error) {
	if sanitize {
		rel, err = s.sanitize(prefix, relPath, isDir)
	} else {
		rel, err = cleanRel(relPath)
	}
	if err != nil {
		return "", "", err
	}
	full, err = cleanRel(joinRel(prefix, rel))
	if err != nil {
		return "", "", err
	}
	return rel, full, nil
}

// ensureDirectory records every prefix of rel as a directory, creating it
// in the staging tree when first seen.
func (s *Stager) ensureDirectory(rel string) error {
	if rel == "" || rel == "." {
		return nil
	}
	parts := strings.Split(rel, "/")
	for i := range parts {
		soFar := strings.Join(parts[:i+1], "/")
		isFile, used := s.usedAsFile[soFar]
		if used {
			if isFile {
				return conflictf(rel, "%s is already a file", soFar)
			}
			continue
		}
		if err := os.MkdirAll(s.abs(soFar), 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", soFar, err)
		}
		s.usedAsFile[soFar] = false
	}
	return nil
}

// Write stores a file and returns the (possibly sanitized) path written.
func (s *Stager) Write(relPath string, opts WriteOptions) (string, error) {
	return s.write("", relPath, opts)
}

func (s *Stager) write(prefix, relPath string, opts WriteOptions) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	set := 0
	for _, ok := range []bool{opts.Data != nil, opts.File != "", opts.Symlink != ""} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return "", fmt.Errorf("write %s: exactly one of data, file or symlink is required", relPath)
	}

	rel, full, err := s.resolve(prefix, relPath, opts.Sanitize, false)
	if err != nil {
		return "", err
	}
	if isFile, used := s.usedAsFile[full]; used && !isFile {
		return "", conflictf(full, "already a directory")
	}
	if err := s.ensureDirectory(path.Dir(full)); err != nil {
		return "", err
	}

	abs := s.abs(full)
	if opts.Symlink != "" {
		if err := symlinkWithOverwrite(opts.Symlink, abs); err != nil {
			return "", err
		}
		s.usedAsFile[full] = true
		return rel, nil
	}

	data := opts.Data
	if opts.File != "" {
		src, err := filepath.Abs(opts.File)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", opts.File, err)
		}
		data, err = watch.ReadAndWatchFile(s.changes, src)
		if err != nil {
			return "", err
		}
		if data == nil {
			return "", fmt.Errorf("failed to read %s: %w", src, fs.ErrNotExist)
		}
	}

	mode := fs.FileMode(0o444)
	if opts.Executable {
		mode = 0o555
	}
	if err := writeFileAtomic(abs, data, mode); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", full, err)
	}
	s.usedAsFile[full] = true
	log.Component("stager").Log(context.Background(), log.LevelTrace, "wrote", "path", full, "bytes", len(data))
	return rel, nil
}

// WriteJSON writes v as indented JSON.
func (s *Stager) WriteJSON(relPath string, v any) error {
	return s.writeJSON("", relPath, v)
}

func (s *Stager) writeJSON(prefix, relPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", relPath, err)
	}
	_, err = s.write(prefix, relPath, WriteOptions{Data: append(data, '\n')})
	return err
}

// Reserve marks relPath as taken so sanitized names avoid it, creating
// intermediate directories (and relPath itself when opts.Directory is set).
// It returns the current absolute location inside the staging directory.
func (s *Stager) Reserve(relPath string, opts ReserveOptions) (string, error) {
	return s.reserve("", relPath, opts)
}

func (s *Stager) reserve(prefix, relPath string, opts ReserveOptions) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	_, full, err := s.resolve(prefix, relPath, false, opts.Directory)
	if err != nil {
		return "", err
	}

	if opts.Directory {
		if err := s.ensureDirectory(full); err != nil {
			return "", err
		}
		return s.abs(full), nil
	}

	if err := s.ensureDirectory(path.Dir(full)); err != nil {
		return "", err
	}
	if isFile, used := s.usedAsFile[full]; used {
		if isFile {
			return "", conflictf(full, "reserved twice")
		}
		return "", conflictf(full, "already a directory")
	}
	s.usedAsFile[full] = true
	return s.abs(full), nil
}

// GenerateUniqueName sanitizes relPath into an unused name, reserves it and
// returns it.
func (s *Stager) GenerateUniqueName(relPath string, opts ReserveOptions) (string, error) {
	return s.generateUniqueName("", relPath, opts)
}

func (s *Stager) generateUniqueName(prefix, relPath string, opts ReserveOptions) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	rel, _, err := s.resolve(prefix, relPath, true, opts.Directory)
	if err != nil {
		return "", err
	}
	if _, err := s.reserve(prefix, rel, opts); err != nil {
		return "", err
	}
	return rel, nil
}

// WriteToGeneratedFilename writes to a freshly generated unique name and
// returns that name.
func (s *Stager) WriteToGeneratedFilename(relPath string, opts WriteOptions) (string, error) {
	return s.writeToGeneratedFilename("", relPath, opts)
}

func (s *Stager) writeToGeneratedFilename(prefix, relPath string, opts WriteOptions) (string, error) {
	name, err := s.generateUniqueName(prefix, relPath, ReserveOptions{})
	if err != nil {
		return "", err
	}
	opts.Sanitize = false
	if _, err := s.write(prefix, name, opts); err != nil {
		return "", err
	}
	return name, nil
}

// Enter returns a view that resolves every path under prefix.
func (s *Stager) Enter(prefix string) *Sub {
	return newSub(s, "", prefix)
}

// Complete publishes the staging tree at the output path. Any previous
// output is replaced; if the final rename fails the previous output is put
// back and the staging tree is removed.
func (s *Stager) Complete() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.finished = true
	logger := log.Component("stager")

	if err := os.MkdirAll(filepath.Dir(s.outputPath), 0o755); err != nil {
		_ = os.RemoveAll(s.buildPath)
		return fmt.Errorf("failed to create output parent: %w", err)
	}

	var backup string
	if _, err := os.Lstat(s.outputPath); err == nil {
		backup = siblingPath(s.outputPath, ".old")
		if err := os.Rename(s.outputPath, backup); err != nil {
			_ = os.RemoveAll(s.buildPath)
			return fmt.Errorf("%w: moving aside %s: %v", ErrRenameFailed, s.outputPath, err)
		}
	}

	if err := os.Rename(s.buildPath, s.outputPath); err != nil {
		if backup != "" {
			if rerr := os.Rename(backup, s.outputPath); rerr != nil {
				logger.Error("failed to restore previous output", "path", s.outputPath, "error", rerr)
			}
		}
		_ = os.RemoveAll(s.buildPath)
		return fmt.Errorf("%w: %s: %v", ErrRenameFailed, s.outputPath, err)
	}

	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			logger.Warn("failed to remove previous output", "path", backup, "error", err)
		}
	}
	logger.Debug("published", "output", s.outputPath)
	return nil
}

// Abort removes the staging directory and leaves the output path alone.
// It is safe to call at any time, including after Complete.
func (s *Stager) Abort() error {
	if s.finished {
		return nil
	}
	s.finished = true
	if err := os.RemoveAll(s.buildPath); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	log.Component("stager").Debug("aborted", "output", s.outputPath)
	return nil
}

// writeFileAtomic writes data to a temporary sibling and renames it over
// path.
func writeFileAtomic(path string, data []byte, mode fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".stager-tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		// A directory in the way is replaced.
		info, serr := os.Lstat(path)
		if serr != nil || !info.IsDir() {
			return err
		}
		if err := os.RemoveAll(path); err != nil {
			return err
		}
		if err := os.Rename(tmpName, path); err != nil {
			return err
		}
	}
	tmpName = ""
	return nil
}

// symlinkWithOverwrite points target at source, replacing whatever is
// there.
func symlinkWithOverwrite(source, target string) error {
	err := os.Symlink(source, target)
	if errors.Is(err, fs.ErrExist) {
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("failed to replace %s: %w", target, err)
		}
		err = os.Symlink(source, target)
	}
	if err != nil {
		return fmt.Errorf("failed to create symlink %s: %w", target, err)
	}
	return nil
}
