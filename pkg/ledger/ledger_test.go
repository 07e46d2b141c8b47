package ledger

import (
	"fmt"
	"testing"
	"time"
)

func TestAppendEvictsOldestFirst(t *testing.T) {
	l := New(3, nil)
	for i := 0; i < 5; i++ {
		l.Append(Event{Type: EventNavigation, Route: fmt.Sprintf("/r%d", i)})
	}

	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}
	recent := l.Recent(3)
	want := []string{"/r2", "/r3", "/r4"}
	for i, e := range recent {
		if e.Route != want[i] {
			t.Errorf("recent[%d].Route = %q, want %q", i, e.Route, want[i])
		}
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	l := New(10, nil)
	for i := 0; i < 100; i++ {
		l.Append(Event{Type: EventNavigation, Route: "/products"})
		if l.Len() > 10 {
			t.Fatalf("ledger size %d exceeds capacity after %d appends", l.Len(), i+1)
		}
	}
}

func TestMetricsEmptyLedger(t *testing.T) {
	l := New(100, nil)
	m := l.Metrics(5)

	if m.TotalNavigations != 0 || m.AvgDurationMs != 0 || m.ErrorRate != 0 || m.FallbackRate != 0 {
		t.Errorf("empty ledger metrics not zeroed: %+v", m)
	}
	if len(m.TopRoutes) != 0 {
		t.Errorf("TopRoutes = %v, want empty", m.TopRoutes)
	}
}

func TestMetricsComputation(t *testing.T) {
	l := New(100, nil)

	l.Append(Event{Type: EventNavigation, Route: "/products", DurationMs: DurationOf(100 * time.Millisecond)})
	l.Append(Event{Type: EventNavigation, Route: "/products", DurationMs: DurationOf(300 * time.Millisecond)})
	l.Append(Event{Type: EventNavigation, Route: "/cart"})
	l.Append(Event{Type: EventNavigation, Route: "/checkout"})
	l.Append(Event{Type: EventError, Route: "/checkout"})
	l.Append(Event{Type: EventFallback, Route: "/checkout"})
	l.Append(Event{Type: EventBackButton, Route: "/products"})

	m := l.Metrics(2)

	if m.TotalNavigations != 4 {
		t.Errorf("TotalNavigations = %d, want 4", m.TotalNavigations)
	}
	if m.AvgDurationMs != 200 {
		t.Errorf("AvgDurationMs = %v, want 200", m.AvgDurationMs)
	}
	if m.ErrorRate != 0.25 {
		t.Errorf("ErrorRate = %v, want 0.25", m.ErrorRate)
	}
	if m.FallbackRate != 0.25 {
		t.Errorf("FallbackRate = %v, want 0.25", m.FallbackRate)
	}
	if m.ErrorsByRoute["/checkout"] != 1 {
		t.Errorf("ErrorsByRoute[/checkout] = %d, want 1", m.ErrorsByRoute["/checkout"])
	}
	if len(m.TopRoutes) != 2 {
		t.Fatalf("TopRoutes len = %d, want 2", len(m.TopRoutes))
	}
	if m.TopRoutes[0].Route != "/products" || m.TopRoutes[0].Count != 3 {
		t.Errorf("TopRoutes[0] = %+v, want /products x3", m.TopRoutes[0])
	}
	if m.TopRoutes[1].Route != "/checkout" || m.TopRoutes[1].Count != 3 {
		t.Errorf("TopRoutes[1] = %+v, want /checkout x3", m.TopRoutes[1])
	}
}

func TestMetricsIgnoresMalformedMetadata(t *testing.T) {
	l := New(100, nil)

	// Arbitrary metadata is stored as-is and plays no part in aggregates.
	l.Append(Event{
		Type:     EventNavigation,
		Route:    "/cart",
		Metadata: map[string]any{"duration_ms": "not-a-number", "nested": map[string]any{"x": nil}},
	})

	m := l.Metrics(5)
	if m.TotalNavigations != 1 {
		t.Errorf("TotalNavigations = %d, want 1", m.TotalNavigations)
	}
	if m.AvgDurationMs != 0 {
		t.Errorf("AvgDurationMs = %v, want 0", m.AvgDurationMs)
	}

	recent := l.Recent(1)
	if recent[0].Metadata["duration_ms"] != "not-a-number" {
		t.Error("metadata was not stored as-is")
	}
}

func TestRecentInsertionOrder(t *testing.T) {
	l := New(100, nil)
	for i := 0; i < 5; i++ {
		l.Append(Event{Type: EventNavigation, Route: fmt.Sprintf("/r%d", i)})
	}

	recent := l.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) len = %d, want 2", len(recent))
	}
	if recent[0].Route != "/r3" || recent[1].Route != "/r4" {
		t.Errorf("Recent(2) = [%s %s], want [/r3 /r4]", recent[0].Route, recent[1].Route)
	}

	if got := l.Recent(100); len(got) != 5 {
		t.Errorf("Recent(100) len = %d, want 5", len(got))
	}
	if got := l.Recent(0); got != nil {
		t.Errorf("Recent(0) = %v, want nil", got)
	}
}

func TestSinkReceivesAppendedEvents(t *testing.T) {
	var seen []Event
	l := New(10, func(e Event) { seen = append(seen, e) })

	l.Append(Event{Type: EventNavigation, Route: "/a"})
	l.Append(Event{Type: EventError, Route: "/b"})

	if len(seen) != 2 {
		t.Fatalf("sink saw %d events, want 2", len(seen))
	}
	if seen[0].Route != "/a" || seen[1].Route != "/b" {
		t.Errorf("sink order wrong: %v", seen)
	}
	if seen[0].Timestamp.IsZero() {
		t.Error("sink event missing timestamp")
	}
}
