package agent

import (
	"sync"
	"time"
)

// Throttler coalesces bursts of work into at most one execution per
// interval, trailing-edge: the first call runs immediately, calls landing
// inside the window replace each other and the last one runs when the
// window reopens. Modeled as explicit lastEmit/pending state rather than
// closure-captured timers so the behavior is inspectable.
type Throttler struct {
	mu       sync.Mutex
	interval time.Duration
	lastEmit time.Time
	pending  func()
	timer    *time.Timer
	now      func() time.Time
}

func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{interval: interval, now: time.Now}
}

// Do schedules fn under the throttle policy. fn runs on the caller's
// goroutine when the window is open, on the timer goroutine otherwise.
func (t *Throttler) Do(fn func()) {
	t.mu.Lock()

	now := t.now()
	elapsed := now.Sub(t.lastEmit)
	if elapsed >= t.interval {
		t.lastEmit = now
		t.pending = nil
		t.mu.Unlock()
		fn()
		return
	}

	t.pending = fn
	if t.timer == nil {
		t.timer = time.AfterFunc(t.interval-elapsed, t.flush)
	}
	t.mu.Unlock()
}

func (t *Throttler) flush() {
	t.mu.Lock()
	fn := t.pending
	t.pending = nil
	t.timer = nil
	if fn != nil {
		t.lastEmit = t.now()
	}
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Stop cancels any pending trailing execution.
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
}

// Debouncer delays work until a quiet period has passed: every Trigger
// resets the countdown and replaces the stored function.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	fn    func()
	timer *time.Timer
	// gen invalidates firings from timers that were superseded by a
	// later Trigger while already in flight.
	gen uint64
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.fn = fn
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		return
	}
	fn := d.fn
	d.fn = nil
	d.timer = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Flush runs any pending work immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	fn := d.fn
	d.fn = nil
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Stop drops pending work without running it.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.fn = nil
}
