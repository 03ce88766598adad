// Package changeset records the filesystem state a build depended on.
//
// A ChangeSet holds two kinds of assertions: that a file has a given content
// fingerprint (or does not exist), and that a directory's entries, filtered
// by include/exclude patterns, are exactly a recorded list. A watcher created
// from a ChangeSet fires when any assertion stops holding; a build cache uses
// the same check to decide whether an artifact is still valid.
package changeset

import (
	"slices"

	"github.com/albertocavalcante/forge/pkg/util"
)

// Absent is the fingerprint recorded for a file that must not exist.
const Absent = ""

// Directory asserts the filtered contents of a directory.
type Directory struct {
	// Path is the absolute directory path.
	Path string

	// Include and Exclude filter entry names. An entry is kept if it matches
	// any include pattern and no exclude pattern.
	Include []Pattern
	Exclude []Pattern

	// Contents is the sorted list of kept entries; subdirectories end with
	// "/". A nil Contents asserts that the directory does not exist.
	Contents []string

	// Recursive extends the assertion to kept subdirectories. Contents then
	// holds slash-separated paths relative to Path for the whole kept tree,
	// and patterns still match only the last segment.
	Recursive bool
}

// Clone returns a copy that shares no slices with d.
func (d Directory) Clone() Directory {
	d.Include = slices.Clone(d.Include)
	d.Exclude = slices.Clone(d.Exclude)
	d.Contents = slices.Clone(d.Contents)
	return d
}

// ChangeSet is a set of filesystem assertions.
type ChangeSet struct {
	// AlwaysFire is set when the set is internally inconsistent (the same
	// file was added with two fingerprints). Such a set is never up to date.
	AlwaysFire bool

	// Files maps absolute paths to fingerprints. Absent means the file must
	// not exist.
	Files map[string]string

	// Directories holds directory assertions. A path may appear more than
	// once with different filters.
	Directories []Directory
}

// New creates an empty ChangeSet.
func New() *ChangeSet {
	return &ChangeSet{Files: make(map[string]string)}
}

// AddFile records the fingerprint of path. Adding the same path twice with
// different fingerprints switches the set to AlwaysFire.
func (cs *ChangeSet) AddFile(path, fingerprint string) {
	if cs == nil || cs.AlwaysFire {
		return
	}
	if cs.Files == nil {
		cs.Files = make(map[string]string)
	}
	if prev, ok := cs.Files[path]; ok {
		if prev != fingerprint {
			cs.AlwaysFire = true
		}
		return
	}
	cs.Files[path] = fingerprint
}

// AddDirectory records a directory assertion. Entries with no include
// patterns can never match anything and are dropped.
func (cs *ChangeSet) AddDirectory(d Directory) {
	if cs == nil || cs.AlwaysFire {
		return
	}
	if len(d.Include) == 0 {
		return
	}
	d = d.Clone()
	if d.Contents != nil {
		slices.Sort(d.Contents)
	}
	cs.Directories = append(cs.Directories, d)
}

// Merge adds every assertion of other. The result fires whenever either
// input would have fired.
func (cs *ChangeSet) Merge(other *ChangeSet) {
	if cs == nil || other == nil || cs.AlwaysFire {
		return
	}
	if other.AlwaysFire {
		cs.AlwaysFire = true
		return
	}
	for _, path := range util.SortedKeys(other.Files) {
		cs.AddFile(path, other.Files[path])
	}
	for _, d := range other.Directories {
		cs.Directories = append(cs.Directories, d.Clone())
	}
}

// Clone returns a deep copy.
func (cs *ChangeSet) Clone() *ChangeSet {
	if cs == nil {
		return New()
	}
	out := &ChangeSet{
		AlwaysFire:  cs.AlwaysFire,
		Files:       make(map[string]string, len(cs.Files)),
		Directories: make([]Directory, 0, len(cs.Directories)),
	}
	for k, v := range cs.Files {
		out.Files[k] = v
	}
	for _, d := range cs.Directories {
		out.Directories = append(out.Directories, d.Clone())
	}
	return out
}

// IsEmpty reports whether the set asserts nothing.
func (cs *ChangeSet) IsEmpty() bool {
	if cs == nil {
		return true
	}
	return !cs.AlwaysFire && len(cs.Files) == 0 && len(cs.Directories) == 0
}

// FilePaths returns the tracked file paths in sorted order.
func (cs *ChangeSet) FilePaths() []string {
	if cs == nil {
		return nil
	}
	return util.SortedKeys(cs.Files)
}

// Fingerprint returns the recorded fingerprint for path.
func (cs *ChangeSet) Fingerprint(path string) (string, bool) {
	if cs == nil {
		return "", false
	}
	fp, ok := cs.Files[path]
	return fp, ok
}
