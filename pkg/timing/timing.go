// Package timing correlates user-initiated transitions with their
// completions to produce accurate latency measurements.
package timing

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storefront/navcore/pkg/metrics"
)

// Timing is one in-flight transition. It lives in the correlator from
// Start until Complete or eviction; its id is never reused.
type Timing struct {
	ID        string
	Route     string
	Kind      string
	StartedAt time.Time
}

// Correlator issues correlation ids and matches completions back to
// their starts. All operations are synchronous; scans are bounded by
// maxLive entries.
type Correlator struct {
	mu      sync.Mutex
	live    []Timing // insertion order, oldest first
	maxLive int
	now     func() time.Time
}

// New creates a correlator holding at most maxLive in-flight timings.
// When the bound is exceeded the oldest timing is evicted and its id
// invalidated, so abandoned transitions cannot grow the set without
// limit.
func New(maxLive int) *Correlator {
	if maxLive <= 0 {
		maxLive = 50
	}
	return &Correlator{
		live:    make([]Timing, 0, maxLive),
		maxLive: maxLive,
		now:     time.Now,
	}
}

// Start records a new in-flight transition and returns its correlation
// id. Ids combine the monotonic start nanos with a random suffix, so
// concurrent starts never collide.
func (c *Correlator) Start(route, kind string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	started := c.now()
	id := fmt.Sprintf("%d-%s", started.UnixNano(), uuid.NewString()[:8])

	c.live = append(c.live, Timing{
		ID:        id,
		Route:     route,
		Kind:      kind,
		StartedAt: started,
	})
	if len(c.live) > c.maxLive {
		evicted := len(c.live) - c.maxLive
		c.live = c.live[evicted:]
		metrics.TimingEvictions.Add(float64(evicted))
	}
	return id
}

// Complete resolves a finished transition and returns its timing and
// elapsed duration. Resolution order is strict:
//
//  1. exact id match, if id is non-empty and still live
//  2. the most recently started timing for the same route
//  3. the single most recently started timing of any route
//  4. none: ok=false (expected on first load, not an error)
//
// Step 3 deliberately preserves the original correlation behavior: under
// rapid concurrent navigations it can attribute the duration to the
// wrong transition. Accepted trade-off; prefer passing the exact id.
//
// The matched timing is removed, so a second Complete with the same id
// finds nothing.
func (c *Correlator) Complete(route, id string) (Timing, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	if id != "" {
		for i := len(c.live) - 1; i >= 0; i-- {
			if c.live[i].ID == id {
				idx = i
				break
			}
		}
	}
	if idx < 0 && route != "" {
		for i := len(c.live) - 1; i >= 0; i-- {
			if c.live[i].Route == route {
				idx = i
				break
			}
		}
	}
	if idx < 0 && len(c.live) > 0 {
		idx = len(c.live) - 1
	}
	if idx < 0 {
		metrics.TimingUnmatched.Inc()
		return Timing{}, 0, false
	}

	t := c.live[idx]
	c.live = append(c.live[:idx], c.live[idx+1:]...)

	elapsed := c.now().Sub(t.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	metrics.NavigationDuration.Observe(elapsed.Seconds())
	return t, elapsed, true
}

// Live returns the number of in-flight timings.
func (c *Correlator) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}
