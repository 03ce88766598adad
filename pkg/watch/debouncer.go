package watch

import (
	"slices"
	"sync"
	"time"
)

// maxPending bounds the coalesced path set. Reaching it flushes at once.
const maxPending = 1000

// debouncer coalesces bursts of native filesystem events into a single
// re-check. Paths added within one window are delivered together, sorted.
type debouncer struct {
	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	window  time.Duration
	onFlush func(paths []string)
	stopped bool
}

func newDebouncer(window time.Duration, onFlush func(paths []string)) *debouncer {
	return &debouncer{
		pending: make(map[string]struct{}),
		window:  window,
		onFlush: onFlush,
	}
}

// Add records a changed path and restarts the window.
func (d *debouncer) Add(path string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending[path] = struct{}{}

	if len(d.pending) >= maxPending {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
		paths := d.drainLocked()
		d.mu.Unlock()
		d.onFlush(paths)
		return
	}

	// A timer that already fired may still run flush; flush tolerates an
	// empty set.
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
	d.mu.Unlock()
}

func (d *debouncer) flush() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	paths := d.drainLocked()
	d.mu.Unlock()

	d.onFlush(paths)
}

// drainLocked empties the pending set. Caller must hold d.mu.
func (d *debouncer) drainLocked() []string {
	paths := make([]string, 0, len(d.pending))
	for p := range d.pending {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	d.pending = make(map[string]struct{})
	return paths
}

// Stop discards pending paths. No flush happens after Stop returns, apart
// from one already running.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = make(map[string]struct{})
}

// Pending returns the number of paths waiting for the window to expire.
func (d *debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
