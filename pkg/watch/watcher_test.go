package watch

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/albertocavalcante/forge/pkg/changeset"
)

const testInterval = 20 * time.Millisecond

func snapshot(t *testing.T, root string, files ...string) *changeset.ChangeSet {
	t.Helper()
	cs := changeset.New()
	for _, f := range files {
		if _, err := ReadAndWatchFile(cs, filepath.Join(root, f)); err != nil {
			t.Fatal(err)
		}
	}
	return cs
}

func TestIsUpToDate(t *testing.T) {
	root := t.TempDir()
	mkfiles(t, root, "a.js", "b.js")
	cs := snapshot(t, root, "a.js", "b.js", "absent.js")
	if _, err := ReadAndWatchDirectory(cs, changeset.Directory{Path: root, Include: changeset.MustCompileAll(`\.js$`)}); err != nil {
		t.Fatal(err)
	}

	if !IsUpToDate(cs) {
		t.Fatal("IsUpToDate() = false on an untouched tree")
	}

	tests := []struct {
		name   string
		mutate func(t *testing.T)
	}{
		{"content change", func(t *testing.T) {
			if err := os.WriteFile(filepath.Join(root, "a.js"), []byte("edited"), 0o644); err != nil {
				t.Fatal(err)
			}
		}},
		{"expected absent appears", func(t *testing.T) {
			if err := os.WriteFile(filepath.Join(root, "absent.js"), nil, 0o644); err != nil {
				t.Fatal(err)
			}
		}},
		{"file removed", func(t *testing.T) {
			if err := os.Remove(filepath.Join(root, "b.js")); err != nil {
				t.Fatal(err)
			}
		}},
		{"directory entry added", func(t *testing.T) {
			if err := os.WriteFile(filepath.Join(root, "new.js"), nil, 0o644); err != nil {
				t.Fatal(err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restore := snapshotDir(t, root)
			defer restore()
			tt.mutate(t)
			if IsUpToDate(cs) {
				t.Error("IsUpToDate() = true after mutation")
			}
		})
	}
}

// snapshotDir copies root's regular files and restores them afterwards.
func snapshotDir(t *testing.T, root string) func() {
	t.Helper()
	saved := make(map[string][]byte)
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			data, err := os.ReadFile(filepath.Join(root, e.Name()))
			if err != nil {
				t.Fatal(err)
			}
			saved[e.Name()] = data
		}
	}
	return func() {
		entries, _ := os.ReadDir(root)
		for _, e := range entries {
			if _, ok := saved[e.Name()]; !ok {
				os.RemoveAll(filepath.Join(root, e.Name()))
			}
		}
		for name, data := range saved {
			if err := os.WriteFile(filepath.Join(root, name), data, 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func TestIsUpToDateAlwaysFire(t *testing.T) {
	cs := changeset.New()
	cs.AddFile("/x", "1")
	cs.AddFile("/x", "2")
	if IsUpToDate(cs) {
		t.Error("inconsistent change set reported up to date")
	}
	if !IsUpToDate(changeset.New()) {
		t.Error("empty change set reported stale")
	}
}

func TestWatcherFiresOnce(t *testing.T) {
	root := t.TempDir()
	mkfiles(t, root, "a.js", "b.js")
	cs := snapshot(t, root, "a.js", "b.js")

	var calls atomic.Int32
	fired := make(chan struct{}, 4)
	w, err := New(Options{
		ChangeSet:    cs,
		PollInterval: testInterval,
		OnChange: func() {
			calls.Add(1)
			fired <- struct{}{}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if w.State() != Armed {
		t.Fatalf("State() = %v, want armed", w.State())
	}

	mkfiles(t, root, "a.js") // rewritten with identical content
	if err := os.WriteFile(filepath.Join(root, "a.js"), []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.js"), []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not fire")
	}
	time.Sleep(5 * testInterval)

	if n := calls.Load(); n != 1 {
		t.Errorf("OnChange called %d times, want 1", n)
	}
	if w.State() != Fired {
		t.Errorf("State() = %v, want fired", w.State())
	}
	w.Stop()
	w.Stop()
	if w.State() != Fired {
		t.Errorf("Stop changed a fired watcher to %v", w.State())
	}
}

// rewriteKeepingStat replaces the content of path with data of the same
// length and restores the modification time.
func rewriteKeepingStat(t *testing.T, path, data string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(data)) != info.Size() {
		t.Fatalf("replacement is %d bytes, file is %d", len(data), info.Size())
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, info.ModTime(), info.ModTime()); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherFirstTickRehashes(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.js")
	if err := os.WriteFile(path, []byte("A = 1;"), 0o644); err != nil {
		t.Fatal(err)
	}
	cs := snapshot(t, root, "a.js")

	fired := make(chan struct{}, 1)
	w, err := New(Options{
		ChangeSet:    cs,
		PollInterval: 5 * testInterval,
		OnChange:     func() { fired <- struct{}{} },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if w.State() != Armed {
		t.Fatalf("State() = %v, want armed", w.State())
	}

	// Same size and mtime: only a re-hash can see this edit.
	rewriteKeepingStat(t, path, "A = 2;")

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick did not detect a same-size, same-mtime edit")
	}
}

func TestScanStatFastPath(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.js")
	if err := os.WriteFile(path, []byte("A = 1;"), 0o644); err != nil {
		t.Fatal(err)
	}
	cs := snapshot(t, root, "a.js")

	var calls atomic.Int32
	w := newWatcher(cs, func() { calls.Add(1) }, testInterval)
	defer w.Stop()

	w.scan(true)
	if calls.Load() != 0 {
		t.Fatal("unchanged file reported as changed")
	}

	rewriteKeepingStat(t, path, "A = 2;")

	// Later ticks trust an unchanged size and mtime.
	w.scan(false)
	if calls.Load() != 0 {
		t.Errorf("stat-only scan hashed the file")
	}

	w.scan(true)
	if n := calls.Load(); n != 1 {
		t.Errorf("full scan fired %d times, want 1", n)
	}
	if w.State() != Fired {
		t.Errorf("State() = %v, want fired", w.State())
	}
}

func TestWatcherFiresDuringConstruction(t *testing.T) {
	root := t.TempDir()
	cs := changeset.New()
	cs.AddFile(filepath.Join(root, "gone.js"), changeset.HashBytes([]byte("x")))

	called := false
	w, err := New(Options{ChangeSet: cs, OnChange: func() { called = true }})
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("OnChange not called for an already-stale change set")
	}
	if w.State() != Fired {
		t.Errorf("State() = %v, want fired", w.State())
	}
}

func TestWatcherStop(t *testing.T) {
	root := t.TempDir()
	mkfiles(t, root, "a.js")
	cs := snapshot(t, root, "a.js")

	var calls atomic.Int32
	w, err := New(Options{ChangeSet: cs, PollInterval: testInterval, OnChange: func() { calls.Add(1) }})
	if err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()

	if err := os.WriteFile(filepath.Join(root, "a.js"), []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * testInterval)

	if n := calls.Load(); n != 0 {
		t.Errorf("OnChange called %d times after Stop", n)
	}
	if w.State() != Stopped {
		t.Errorf("State() = %v, want stopped", w.State())
	}
}

func TestWatcherNative(t *testing.T) {
	root := t.TempDir()
	mkfiles(t, root, "a.js")
	cs := snapshot(t, root, "a.js", "later.js")

	fired := make(chan struct{}, 1)
	w, err := New(Options{
		ChangeSet: cs,
		// Long enough that only the native path can fire within the test.
		PollInterval: time.Hour,
		Native:       true,
		Debounce:     10 * time.Millisecond,
		OnChange:     func() { fired <- struct{}{} },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(root, "later.js"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Skip("no native filesystem events on this platform")
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{OnChange: func() {}}); err == nil {
		t.Error("New() without ChangeSet succeeded")
	}
	if _, err := New(Options{ChangeSet: changeset.New()}); err == nil {
		t.Error("New() without OnChange succeeded")
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{Armed: "armed", Fired: "fired", Stopped: "stopped", State(9): "State(9)"} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}
