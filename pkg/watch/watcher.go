// Package watch detects when the filesystem stops matching a ChangeSet.
//
// A Watcher runs a synchronous check when it is created and then re-checks
// from a background poller until the first mismatch, when it stops itself
// and invokes its callback exactly once. IsUpToDate runs the same check once
// without starting anything.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/albertocavalcante/forge/internal/log"
	"github.com/albertocavalcante/forge/pkg/changeset"
	"github.com/albertocavalcante/forge/pkg/util"
)

// Defaults for Options.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultDebounce     = 100 * time.Millisecond
)

// State is the lifecycle state of a Watcher.
type State int

const (
	Armed State = iota
	Fired
	Stopped
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a Watcher.
type Options struct {
	// ChangeSet is the set of assertions to watch. The Watcher keeps its
	// own copy.
	ChangeSet *changeset.ChangeSet

	// OnChange is called at most once, after the Watcher has stopped.
	OnChange func()

	// PollInterval is the re-check period. Zero means DefaultPollInterval.
	PollInterval time.Duration

	// Native adds fsnotify-driven re-checks on top of polling.
	Native bool

	// Debounce is the coalescing window for native events. Zero means
	// DefaultDebounce.
	Debounce time.Duration
}

// Watcher fires a callback when its ChangeSet no longer holds.
type Watcher struct {
	cs       *changeset.ChangeSet
	onChange func()
	interval time.Duration

	mu      sync.Mutex
	state   State
	done    chan struct{}
	native  *notifier

	// scanMu serializes scans; stats is only touched under it.
	scanMu sync.Mutex
	stats  map[string]fileStat
}

// fileStat is the cheap identity of a file whose hash matched.
type fileStat struct {
	size    int64
	modTime int64
}

func statOf(info fs.FileInfo) fileStat {
	return fileStat{size: info.Size(), modTime: info.ModTime().UnixNano()}
}

// New creates a Watcher and checks opts.ChangeSet synchronously. If the
// check finds a change, OnChange runs before New returns and the returned
// Watcher is already in the Fired state.
func New(opts Options) (*Watcher, error) {
	if opts.ChangeSet == nil {
		return nil, errors.New("watch: nil ChangeSet")
	}
	if opts.OnChange == nil {
		return nil, errors.New("watch: nil OnChange")
	}
	w := newWatcher(opts.ChangeSet, opts.OnChange, opts.PollInterval)

	w.scan(true)
	if w.State() != Armed {
		return w, nil
	}

	if opts.Native {
		window := opts.Debounce
		if window <= 0 {
			window = DefaultDebounce
		}
		n, err := newNotifier(w.cs, window, func([]string) { w.scan(true) })
		if err != nil {
			// Polling alone still honours the contract.
			log.Component("watch").Debug("native watching unavailable", "error", err)
		} else {
			w.mu.Lock()
			if w.state == Armed {
				w.native, n = n, nil
			}
			w.mu.Unlock()
			if n != nil {
				n.Close()
			}
		}
	}

	go w.poll()
	return w, nil
}

func newWatcher(cs *changeset.ChangeSet, onChange func(), interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		cs:       cs.Clone(),
		onChange: onChange,
		interval: interval,
		done:     make(chan struct{}),
		stats:    make(map[string]fileStat),
	}
}

// IsUpToDate reports whether the filesystem still matches cs.
func IsUpToDate(cs *changeset.ChangeSet) bool {
	if cs == nil {
		return true
	}
	upToDate := true
	w := newWatcher(cs, func() { upToDate = false }, 0)
	w.scan(true)
	w.Stop()
	return upToDate
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stop prevents any further callback. It is safe to call more than once
// and from within OnChange.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.state != Armed {
		w.mu.Unlock()
		return
	}
	w.state = Stopped
	w.mu.Unlock()
	w.release()
}

// fire moves an Armed watcher to Fired and runs the callback outside the
// lock. Only the first caller gets through.
func (w *Watcher) fire(reason, path string) {
	w.mu.Lock()
	if w.state != Armed {
		w.mu.Unlock()
		return
	}
	w.state = Fired
	w.mu.Unlock()
	w.release()

	log.Component("watch").Debug("change detected", "reason", reason, "path", path)
	w.onChange()
}

func (w *Watcher) release() {
	close(w.done)
	w.mu.Lock()
	n := w.native
	w.native = nil
	w.mu.Unlock()
	if n != nil {
		n.Close()
	}
}

func (w *Watcher) stopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state != Armed
}

// poll re-checks every interval. The first tick hashes every file again so
// that edits landing within the filesystem's timestamp granularity of the
// initial check are caught; later ticks skip hashing files whose size and
// modification time are unchanged since their hash last matched.
func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	full := true
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.scan(full)
			full = false
		}
	}
}

// scan runs one check and fires on the first mismatch.
func (w *Watcher) scan(full bool) {
	w.scanMu.Lock()
	defer w.scanMu.Unlock()

	if w.stopped() {
		return
	}

	if w.cs.AlwaysFire {
		w.fire("inconsistent change set", "")
		return
	}

	for _, path := range util.SortedKeys(w.cs.Files) {
		if w.stopped() {
			return
		}
		changed, err := w.fileChanged(path, w.cs.Files[path], full)
		if err != nil {
			log.Component("watch").Debug("treating unreadable file as changed", "path", path, "error", err)
			changed = true
		}
		if changed {
			w.fire("file changed", path)
			return
		}
	}

	for _, d := range w.cs.Directories {
		if w.stopped() {
			return
		}
		contents, err := ReadDirectory(d)
		if err != nil {
			log.Component("watch").Debug("treating unreadable directory as changed", "path", d.Path, "error", err)
			w.fire("directory unreadable", d.Path)
			return
		}
		if (contents == nil) != (d.Contents == nil) || !slices.Equal(contents, d.Contents) {
			w.fire("directory changed", d.Path)
			return
		}
	}
}

func (w *Watcher) fileChanged(path, fingerprint string, full bool) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.IsDir()) {
		return fingerprint != changeset.Absent, nil
	}
	if err != nil {
		return true, err
	}
	if fingerprint == changeset.Absent {
		return true, nil
	}

	if !full {
		if st, ok := w.stats[path]; ok && st == statOf(info) {
			return false, nil
		}
	}

	hash, err := changeset.HashFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return true, err
	}
	if hash != fingerprint {
		return true, nil
	}
	w.stats[path] = statOf(info)
	return false, nil
}
