package realtime

import (
	"strings"
	"sync"
	"time"
)

// Debouncer collapses bursts of triggers for the same key into a single fire
// after a quiescent window. A new trigger for a key cancels and replaces the
// pending one; at most one timer exists per key.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	nextGen uint64
	pending map[string]*debounceEntry
}

type debounceEntry struct {
	gen   uint64
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given quiescent window
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*debounceEntry),
	}
}

// Schedule arms (or re-arms) the fire for key. fn runs once the window elapses
// with no further Schedule calls for the same key.
func (d *Debouncer) Schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.pending[key]; ok {
		entry.timer.Stop()
	}

	d.nextGen++
	gen := d.nextGen

	entry := &debounceEntry{gen: gen}
	entry.timer = time.AfterFunc(d.window, func() {
		d.fire(key, gen, fn)
	})
	d.pending[key] = entry
}

// fire runs fn unless the timer was replaced or cancelled after arming.
// The generation check closes the race between a concurrent Schedule/Cancel
// and a timer that already left the runtime's timer heap.
func (d *Debouncer) fire(key string, gen uint64, fn func()) {
	d.mu.Lock()
	entry, ok := d.pending[key]
	if !ok || entry.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	fn()
}

// Cancel drops the pending fire for key, if any
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.pending[key]; ok {
		entry.timer.Stop()
		delete(d.pending, key)
	}
}

// CancelPrefix drops every pending fire whose key starts with prefix
func (d *Debouncer) CancelPrefix(prefix string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, entry := range d.pending {
		if strings.HasPrefix(key, prefix) {
			entry.timer.Stop()
			delete(d.pending, key)
		}
	}
}

// CancelAll drops every pending fire
func (d *Debouncer) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, key)
	}
}

// Pending returns the number of armed keys
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
