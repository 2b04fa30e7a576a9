package urlstate

import (
	"sync"
	"time"
)

// DefaultDelay is the debounce window for committing state changes.
const DefaultDelay = 500 * time.Millisecond

// Debouncer runs only the last function handed to Trigger once delay has
// passed without another Trigger. Starting a new window cancels the pending one.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending func()
}

// NewDebouncer creates a Debouncer. A non-positive delay uses DefaultDelay.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer{delay: delay}
}

// Trigger schedules fn, replacing any pending function.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = fn
	var t *time.Timer
	t = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.timer != t {
			d.mu.Unlock()
			return
		}
		run := d.pending
		d.timer, d.pending = nil, nil
		d.mu.Unlock()
		if run != nil {
			run()
		}
	})
	d.timer = t
}

// Flush runs the pending function now, if any.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	run := d.pending
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer, d.pending = nil, nil
	d.mu.Unlock()
	if run != nil {
		run()
	}
}

// Stop drops the pending function without running it.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer, d.pending = nil, nil
}

// Pending reports whether a function is waiting to run.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}
