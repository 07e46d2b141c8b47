package history

import (
	"testing"
	"time"

	"github.com/storefront/navcore/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpdateRouteAndPop(t *testing.T) {
	tr := New(Config{Capacity: 50}, nil)

	tr.UpdateRoute("/", "")
	tr.UpdateRoute("/a", "")
	tr.UpdateRoute("/b", "")

	st := tr.Snapshot()
	if st.CurrentRoute != "/b" || st.PreviousRoute != "/a" {
		t.Errorf("current/previous = %q/%q, want /b / /a", st.CurrentRoute, st.PreviousRoute)
	}
	if !tr.HasHistory() {
		t.Error("HasHistory should be true")
	}

	target, ok := tr.Pop()
	if !ok || target != "/a" {
		t.Errorf("Pop = %q,%v, want /a,true", target, ok)
	}
	if tr.Snapshot().CurrentRoute != "/a" {
		t.Errorf("current after pop = %q, want /a", tr.Snapshot().CurrentRoute)
	}
}

func TestUpdateRouteReentryDoesNotGrowStack(t *testing.T) {
	tr := New(Config{Capacity: 50}, nil)

	tr.UpdateRoute("/", "")
	tr.UpdateRoute("/a", "")
	tr.SetNavigating(true)
	tr.UpdateRoute("/a", "")

	st := tr.Snapshot()
	if len(st.History) != 2 {
		t.Errorf("history len = %d, want 2 (re-entry must not push)", len(st.History))
	}
	if st.IsNavigating {
		t.Error("re-entry should clear the navigating flag")
	}

	// After a pop, the completion for the back-target is a re-entry.
	tr.UpdateRoute("/b", "")
	tr.Pop()
	tr.UpdateRoute("/a", "")
	if got := len(tr.Snapshot().History); got != 2 {
		t.Errorf("history len after back completion = %d, want 2", got)
	}
}

func TestPopNoSafeTarget(t *testing.T) {
	tr := New(Config{Capacity: 50}, nil)

	if _, ok := tr.Pop(); ok {
		t.Error("Pop on empty history should return ok=false")
	}

	tr.UpdateRoute("/", "")
	if _, ok := tr.Pop(); ok {
		t.Error("Pop with single-entry history should return ok=false")
	}
	if tr.HasHistory() {
		t.Error("HasHistory should be false with one entry")
	}
}

func TestHistoryCapacityBounded(t *testing.T) {
	tr := New(Config{Capacity: 3}, nil)

	for _, r := range []string{"/a", "/b", "/c", "/d", "/e"} {
		tr.UpdateRoute(r, "")
	}

	st := tr.Snapshot()
	if len(st.History) != 3 {
		t.Fatalf("history len = %d, want 3", len(st.History))
	}
	want := []string{"/c", "/d", "/e"}
	for i, r := range st.History {
		if r != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, r, want[i])
		}
	}
}

func TestFailedNavigationExpiry(t *testing.T) {
	tr := New(Config{Capacity: 50, FailureTTL: 5 * time.Minute}, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.TrackFailedNavigation("/checkout")
	if !tr.HasRecentFailure("/checkout") {
		t.Fatal("failure should be recent")
	}

	// Expiry is checked lazily on read; no timer involved.
	now = now.Add(5*time.Minute + time.Second)
	if tr.HasRecentFailure("/checkout") {
		t.Error("failure should have expired")
	}
	if _, ok := tr.Snapshot().FailedNavigations["/checkout"]; ok {
		t.Error("expired entry should be pruned on read")
	}
}

func TestClearFailedNavigation(t *testing.T) {
	tr := New(Config{Capacity: 50}, nil)

	tr.TrackFailedNavigation("/cart")
	tr.ClearFailedNavigation("/cart")
	if tr.HasRecentFailure("/cart") {
		t.Error("cleared failure still reported")
	}

	// Clearing an untracked route is a no-op.
	tr.ClearFailedNavigation("/nowhere")
}

func TestPersistenceRoundTrip(t *testing.T) {
	s := newTestStore(t)

	tr := New(Config{Capacity: 50}, s)
	tr.UpdateRoute("/", "")
	tr.UpdateRoute("/products", "")
	tr.TrackFailedNavigation("/checkout")
	tr.SetOffline(true)

	// A fresh tracker over the same store sees the persisted state.
	tr2 := New(Config{Capacity: 50}, s)
	st := tr2.Snapshot()
	if st.CurrentRoute != "/products" {
		t.Errorf("rehydrated current = %q, want /products", st.CurrentRoute)
	}
	if len(st.History) != 2 {
		t.Errorf("rehydrated history len = %d, want 2", len(st.History))
	}
	if !st.OfflineMode {
		t.Error("rehydrated offline mode lost")
	}
	if !tr2.HasRecentFailure("/checkout") {
		t.Error("rehydrated failed navigation lost")
	}
}

func TestCorruptStateRehydratesAsDefault(t *testing.T) {
	s := newTestStore(t)

	tr := New(Config{Capacity: 50}, s)
	tr.UpdateRoute("/products", "")

	// Corrupt the stored blob: one flipped byte makes it unparseable.
	if err := s.PutRaw("nav:state", []byte(`{"current_route": "/products`)); err != nil {
		t.Fatalf("PutRaw: %v", err)
	}

	tr2 := New(Config{Capacity: 50}, s)
	st := tr2.Snapshot()
	if st.CurrentRoute != "" || len(st.History) != 0 {
		t.Errorf("corrupt state should rehydrate as default, got %+v", st)
	}
}
