package agent

import (
	"sync"
	"testing"
	"time"
)

type counter struct {
	mu   sync.Mutex
	vals []int
}

func (c *counter) add(v int) func() {
	return func() {
		c.mu.Lock()
		c.vals = append(c.vals, v)
		c.mu.Unlock()
	}
}

func (c *counter) snapshot() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.vals))
	copy(out, c.vals)
	return out
}

func TestThrottlerLeadingEdge(t *testing.T) {
	th := NewThrottler(50 * time.Millisecond)
	c := &counter{}

	th.Do(c.add(1))
	if got := c.snapshot(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("First call must run immediately, got %v", got)
	}
}

func TestThrottlerCoalescesBurst(t *testing.T) {
	th := NewThrottler(60 * time.Millisecond)
	c := &counter{}

	// Leading call runs; the burst inside the window collapses into one
	// trailing run of the last function.
	for i := 1; i <= 5; i++ {
		th.Do(c.add(i))
	}

	time.Sleep(120 * time.Millisecond)
	got := c.snapshot()
	if len(got) != 2 {
		t.Fatalf("Expected leading plus trailing run, got %v", got)
	}
	if got[0] != 1 || got[1] != 5 {
		t.Errorf("Trailing run must be the last call, got %v", got)
	}
}

func TestThrottlerWindowReopens(t *testing.T) {
	th := NewThrottler(30 * time.Millisecond)
	c := &counter{}

	th.Do(c.add(1))
	time.Sleep(60 * time.Millisecond)
	th.Do(c.add(2))

	if got := c.snapshot(); len(got) != 2 {
		t.Errorf("Calls in separate windows must both run, got %v", got)
	}
}

func TestThrottlerStopCancelsTrailing(t *testing.T) {
	th := NewThrottler(40 * time.Millisecond)
	c := &counter{}

	th.Do(c.add(1))
	th.Do(c.add(2)) // parked
	th.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := c.snapshot(); len(got) != 1 {
		t.Errorf("Stop must drop the parked run, got %v", got)
	}
}

func TestDebouncerWaitsForQuietPeriod(t *testing.T) {
	d := NewDebouncer(60 * time.Millisecond)
	c := &counter{}

	// Each trigger resets the countdown; only the final function runs.
	d.Trigger(c.add(1))
	time.Sleep(30 * time.Millisecond)
	d.Trigger(c.add(2))
	time.Sleep(30 * time.Millisecond)
	d.Trigger(c.add(3))

	// 40ms after the last trigger: still quiet-period, nothing ran.
	time.Sleep(40 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Fatalf("Nothing should run before the quiet period elapses, got %v", got)
	}

	time.Sleep(60 * time.Millisecond)
	got := c.snapshot()
	if len(got) != 1 || got[0] != 3 {
		t.Errorf("Exactly the last trigger should run, got %v", got)
	}
}

func TestDebouncerFlushRunsImmediately(t *testing.T) {
	d := NewDebouncer(time.Minute)
	c := &counter{}

	d.Trigger(c.add(1))
	d.Flush()
	if got := c.snapshot(); len(got) != 1 {
		t.Fatalf("Flush must run the pending work, got %v", got)
	}

	// Flush with nothing pending is a no-op, and the cancelled timer must
	// not fire later.
	d.Flush()
	time.Sleep(20 * time.Millisecond)
	if got := c.snapshot(); len(got) != 1 {
		t.Errorf("Flushed work must not run twice, got %v", got)
	}
}

func TestDebouncerStopDropsPending(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	c := &counter{}

	d.Trigger(c.add(1))
	d.Stop()

	time.Sleep(80 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Errorf("Stop must drop pending work, got %v", got)
	}
}
