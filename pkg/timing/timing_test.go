package timing

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock returns a now func advancing by step on each call to Tick.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestStartReturnsUniqueIDs(t *testing.T) {
	c := New(50)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := c.Start("/cart", "click")
		if seen[id] {
			t.Fatalf("duplicate id %q at iteration %d", id, i)
		}
		seen[id] = true
	}
}

func TestCompleteExactID(t *testing.T) {
	c := New(50)
	clock := newFakeClock()
	c.now = clock.Now

	id := c.Start("/cart", "click")
	clock.Advance(120 * time.Millisecond)

	tm, elapsed, ok := c.Complete("/cart", id)
	if !ok {
		t.Fatal("Complete returned ok=false for live id")
	}
	if tm.ID != id || tm.Route != "/cart" || tm.Kind != "click" {
		t.Errorf("Complete timing = %+v", tm)
	}
	if elapsed != 120*time.Millisecond {
		t.Errorf("elapsed = %s, want 120ms", elapsed)
	}

	// No double completion: the timing was removed.
	if _, _, ok := c.Complete("/cart", id); ok {
		t.Error("second Complete with same id should fail")
	}
	if c.Live() != 0 {
		t.Errorf("Live = %d, want 0", c.Live())
	}
}

func TestCompleteSameRouteFallback(t *testing.T) {
	c := New(50)
	clock := newFakeClock()
	c.now = clock.Now

	c.Start("/products", "click")
	clock.Advance(10 * time.Millisecond)
	second := c.Start("/products", "click")
	clock.Advance(5 * time.Millisecond)
	c.Start("/cart", "click")

	// No id supplied: the most recently started /products timing wins.
	tm, _, ok := c.Complete("/products", "")
	if !ok {
		t.Fatal("Complete returned ok=false")
	}
	if tm.ID != second {
		t.Errorf("matched id %q, want most recent /products timing %q", tm.ID, second)
	}
	if c.Live() != 2 {
		t.Errorf("Live = %d, want 2", c.Live())
	}
}

func TestCompleteAnyRouteLastResort(t *testing.T) {
	c := New(50)

	c.Start("/products", "click")
	last := c.Start("/cart", "click")

	// Unknown route, no id: latest timing of any route is used.
	tm, _, ok := c.Complete("/orders", "")
	if !ok {
		t.Fatal("Complete returned ok=false")
	}
	if tm.ID != last {
		t.Errorf("matched id %q, want most recent overall %q", tm.ID, last)
	}
}

func TestCompleteNoLiveTimings(t *testing.T) {
	c := New(50)

	// First-load case: nothing to correlate, no error.
	if _, _, ok := c.Complete("/home", ""); ok {
		t.Error("Complete on empty correlator should return ok=false")
	}
	if _, _, ok := c.Complete("", ""); ok {
		t.Error("Complete with no arguments should return ok=false")
	}
}

func TestOldestEvictedAtCapacity(t *testing.T) {
	c := New(5)

	first := c.Start("/r0", "click")
	for i := 1; i < 6; i++ {
		c.Start(fmt.Sprintf("/r%d", i), "click")
	}

	if c.Live() != 5 {
		t.Fatalf("Live = %d, want 5", c.Live())
	}
	// The evicted id is invalidated; step 1 fails. The completion falls
	// through to the last-resort match on the most recent timing instead.
	tm, _, ok := c.Complete("/r0", first)
	if !ok {
		t.Fatal("Complete returned ok=false")
	}
	if tm.ID == first {
		t.Error("evicted id should not match")
	}
}

func TestElapsedNeverNegative(t *testing.T) {
	c := New(50)
	clock := newFakeClock()
	c.now = clock.Now

	id := c.Start("/cart", "click")
	clock.Advance(-time.Second) // clock skew

	_, elapsed, ok := c.Complete("/cart", id)
	if !ok {
		t.Fatal("Complete returned ok=false")
	}
	if elapsed < 0 {
		t.Errorf("elapsed = %s, want >= 0", elapsed)
	}
}
