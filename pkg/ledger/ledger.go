// Package ledger keeps an append-only, capacity-bounded log of
// navigation events and computes aggregate metrics over it on demand.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/storefront/navcore/pkg/metrics"
)

// Ledger is a bounded ring of navigation events. Appends never fail;
// once capacity is reached the oldest events are evicted first.
type Ledger struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	sink     func(Event) // optional mirror (export collector, live stream)
	now      func() time.Time
}

// New creates a ledger holding at most capacity events. sink, when
// non-nil, receives every appended event after storage.
func New(capacity int, sink func(Event)) *Ledger {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Ledger{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
		sink:     sink,
		now:      time.Now,
	}
}

// Append stores an event, evicting the oldest if over capacity.
// A zero timestamp is filled in at append time.
func (l *Ledger) Append(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}

	l.mu.Lock()
	l.events = append(l.events, e)
	if len(l.events) > l.capacity {
		evicted := len(l.events) - l.capacity
		l.events = l.events[evicted:]
		metrics.LedgerEvictions.Add(float64(evicted))
	}
	l.mu.Unlock()

	metrics.EventsTotal.WithLabelValues(string(e.Type)).Inc()
	if l.sink != nil {
		l.sink(e)
	}
}

// Recent returns the last n events in insertion order.
func (l *Ledger) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > len(l.events) {
		n = len(l.events)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Event, n)
	copy(out, l.events[len(l.events)-n:])
	return out
}

// Len returns the current number of stored events.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// RouteCount pairs a route with its event frequency.
type RouteCount struct {
	Route string `json:"route"`
	Count int    `json:"count"`
}

// Metrics is an aggregate view over the current ledger contents.
type Metrics struct {
	TotalNavigations int            `json:"total_navigations"`
	AvgDurationMs    float64        `json:"avg_duration_ms"`
	ErrorRate        float64        `json:"error_rate"`
	FallbackRate     float64        `json:"fallback_rate"`
	TopRoutes        []RouteCount   `json:"top_routes"`
	ErrorsByRoute    map[string]int `json:"errors_by_route"`
}

// Metrics computes aggregates over the stored events. Computed, never
// cached. Returns zeroed metrics when no events exist.
func (l *Ledger) Metrics(topN int) Metrics {
	l.mu.Lock()
	events := make([]Event, len(l.events))
	copy(events, l.events)
	l.mu.Unlock()

	m := Metrics{ErrorsByRoute: make(map[string]int)}
	if len(events) == 0 {
		return m
	}

	var navigations, errorsCount, fallbacks int
	var durationSum float64
	var durationCount int
	routeFreq := make(map[string]int)

	for _, e := range events {
		routeFreq[e.Route]++
		switch e.Type {
		case EventNavigation:
			navigations++
		case EventError:
			errorsCount++
			m.ErrorsByRoute[e.Route]++
		case EventFallback:
			fallbacks++
		}
		if e.DurationMs != nil {
			durationSum += *e.DurationMs
			durationCount++
		}
	}

	m.TotalNavigations = navigations
	if durationCount > 0 {
		m.AvgDurationMs = durationSum / float64(durationCount)
	}
	if navigations > 0 {
		m.ErrorRate = float64(errorsCount) / float64(navigations)
		m.FallbackRate = float64(fallbacks) / float64(navigations)
	}

	routes := make([]RouteCount, 0, len(routeFreq))
	for route, count := range routeFreq {
		routes = append(routes, RouteCount{Route: route, Count: count})
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Count == routes[j].Count {
			return routes[i].Route < routes[j].Route
		}
		return routes[i].Count > routes[j].Count
	})
	if topN > 0 && len(routes) > topN {
		routes = routes[:topN]
	}
	m.TopRoutes = routes
	return m
}
