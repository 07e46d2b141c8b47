// Package history tracks visited routes and recently failed
// navigations, persisting the full navigation state across restarts.
package history

import (
	"log/slog"
	"sync"
	"time"
)

// stateKey is the store key for the serialized navigation state.
const stateKey = "nav:state"

// Persister is the durable storage dependency. Corrupt stored values
// surface as absent (ok=false), never as errors that matter here.
type Persister interface {
	Get(key string, out any) (bool, error)
	Put(key string, v any) error
}

// State is the process-wide navigation record. It is mutated only
// through Tracker methods and serialized to the store on every
// mutation.
type State struct {
	CurrentRoute      string               `json:"current_route"`
	PreviousRoute     string               `json:"previous_route"`
	IsNavigating      bool                 `json:"is_navigating"`
	OfflineMode       bool                 `json:"offline_mode"`
	History           []string             `json:"history"`
	FailedNavigations map[string]time.Time `json:"failed_navigations"`
}

// Tracker owns the navigation state. The history list is capacity
// bounded (oldest evicted first); failed-navigation entries expire
// after failureTTL, checked lazily on read.
type Tracker struct {
	mu         sync.Mutex
	st         State
	capacity   int
	failureTTL time.Duration
	store      Persister
	now        func() time.Time
}

// Config holds tracker settings.
type Config struct {
	Capacity   int
	FailureTTL time.Duration
}

// New creates a tracker, rehydrating any previously persisted state.
// Corrupt or missing stored state yields the default empty state.
func New(cfg Config, store Persister) *Tracker {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 50
	}
	if cfg.FailureTTL <= 0 {
		cfg.FailureTTL = 5 * time.Minute
	}
	t := &Tracker{
		capacity:   cfg.Capacity,
		failureTTL: cfg.FailureTTL,
		store:      store,
		now:        time.Now,
	}

	var st State
	if store != nil {
		ok, err := store.Get(stateKey, &st)
		if err != nil {
			slog.Warn("navigation state rehydration failed", "error", err)
		} else if ok {
			t.st = st
			slog.Info("navigation state rehydrated",
				"current_route", st.CurrentRoute,
				"history_len", len(st.History))
		}
	}
	if t.st.FailedNavigations == nil {
		t.st.FailedNavigations = make(map[string]time.Time)
	}
	if len(t.st.History) > t.capacity {
		t.st.History = t.st.History[len(t.st.History)-t.capacity:]
	}
	return t
}

// UpdateRoute pushes route onto the history stack, rotates
// current/previous, and clears the navigating flag. Re-entering the
// route already on top (a back transition completing, a reload) only
// clears the navigating flag; the stack does not grow.
func (t *Tracker) UpdateRoute(route, correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.st.History); n > 0 && t.st.History[n-1] == route && t.st.CurrentRoute == route {
		t.st.IsNavigating = false
		t.persistLocked()
		return
	}

	t.st.PreviousRoute = t.st.CurrentRoute
	t.st.CurrentRoute = route
	t.st.IsNavigating = false
	t.st.History = append(t.st.History, route)
	if len(t.st.History) > t.capacity {
		t.st.History = t.st.History[len(t.st.History)-t.capacity:]
	}
	t.persistLocked()

	slog.Debug("route updated", "route", route, "correlation_id", correlationID)
}

// SetNavigating flags an in-flight transition.
func (t *Tracker) SetNavigating(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.st.IsNavigating = v
	t.persistLocked()
}

// SetOffline records the connectivity mode.
func (t *Tracker) SetOffline(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.st.OfflineMode = v
	t.persistLocked()
}

// Offline reports the recorded connectivity mode.
func (t *Tracker) Offline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.OfflineMode
}

// HasHistory reports whether a safe back-target exists.
func (t *Tracker) HasHistory() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.st.History) > 1
}

// Pop removes the current route from the history and returns the entry
// below it. Returns ok=false when the history holds one entry or fewer,
// meaning there is no safe back-target.
func (t *Tracker) Pop() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.st.History) <= 1 {
		return "", false
	}
	t.st.History = t.st.History[:len(t.st.History)-1]
	target := t.st.History[len(t.st.History)-1]

	t.st.PreviousRoute = t.st.CurrentRoute
	t.st.CurrentRoute = target
	t.persistLocked()
	return target, true
}

// TrackFailedNavigation records a failed route.
func (t *Tracker) TrackFailedNavigation(route string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.st.FailedNavigations[route] = t.now()
	t.persistLocked()
}

// HasRecentFailure reports whether route failed within the expiry
// window. Expired entries are pruned here, not by a timer.
func (t *Tracker) HasRecentFailure(route string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	at, ok := t.st.FailedNavigations[route]
	if !ok {
		return false
	}
	if t.now().Sub(at) > t.failureTTL {
		delete(t.st.FailedNavigations, route)
		t.persistLocked()
		return false
	}
	return true
}

// ClearFailedNavigation removes route from the failed set.
func (t *Tracker) ClearFailedNavigation(route string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.st.FailedNavigations[route]; !ok {
		return
	}
	delete(t.st.FailedNavigations, route)
	t.persistLocked()
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.st
	out.History = make([]string, len(t.st.History))
	copy(out.History, t.st.History)
	out.FailedNavigations = make(map[string]time.Time, len(t.st.FailedNavigations))
	for k, v := range t.st.FailedNavigations {
		out.FailedNavigations[k] = v
	}
	return out
}

// persistLocked serializes the full state. Storage failures are logged,
// never propagated: losing persistence must not break navigation.
func (t *Tracker) persistLocked() {
	if t.store == nil {
		return
	}
	if err := t.store.Put(stateKey, t.st); err != nil {
		slog.Warn("navigation state persistence failed", "error", err)
	}
}
