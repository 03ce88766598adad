package watch

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/albertocavalcante/forge/internal/log"
	"github.com/albertocavalcante/forge/pkg/changeset"
	"github.com/fsnotify/fsnotify"
)

// notifier turns fsnotify events under the watched paths into debounced
// re-check requests. It only shortens latency; polling still runs.
type notifier struct {
	fs        *fsnotify.Watcher
	debouncer *debouncer
	done      chan struct{}
}

func newNotifier(cs *changeset.ChangeSet, window time.Duration, onFlush func([]string)) (*notifier, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	n := &notifier{
		fs:        fw,
		debouncer: newDebouncer(window, onFlush),
		done:      make(chan struct{}),
	}

	for _, dir := range watchRoots(cs) {
		if err := fw.Add(dir); err != nil {
			log.Component("watch").Debug("skipping native watch", "path", dir, "error", err)
		}
	}

	go n.loop()
	return n, nil
}

// watchRoots lists the directories whose events can affect cs: the parent
// of each file, each watched directory and, for recursive entries, every
// recorded subdirectory. Paths that do not exist yet are replaced by their
// nearest existing ancestor so that creation is observed.
func watchRoots(cs *changeset.ChangeSet) []string {
	seen := make(map[string]bool)
	var roots []string
	add := func(dir string) {
		dir = existingAncestor(dir)
		if dir == "" || seen[dir] {
			return
		}
		seen[dir] = true
		roots = append(roots, dir)
	}

	for file := range cs.Files {
		add(filepath.Dir(file))
	}
	for _, d := range cs.Directories {
		add(d.Path)
		if !d.Recursive {
			continue
		}
		for _, entry := range d.Contents {
			if strings.HasSuffix(entry, "/") {
				add(filepath.Join(d.Path, filepath.FromSlash(path.Clean(entry))))
			}
		}
	}
	return roots
}

func existingAncestor(dir string) string {
	for {
		info, err := os.Stat(dir)
		if err == nil && info.IsDir() {
			return dir
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func (n *notifier) loop() {
	for {
		select {
		case <-n.done:
			return
		case event, ok := <-n.fs.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			n.debouncer.Add(event.Name)
		case err, ok := <-n.fs.Errors:
			if !ok {
				return
			}
			log.Component("watch").Debug("native watch error", "error", err)
		}
	}
}

// Close stops event delivery. It does not wait for an in-flight re-check.
func (n *notifier) Close() {
	close(n.done)
	n.debouncer.Stop()
	if err := n.fs.Close(); err != nil {
		log.Component("watch").Debug("failed to close native watcher", "error", err)
	}
}
