// Package connectivity observes platform network transitions and
// exposes the current online/offline state to dependents. The monitor
// never polls; it consumes transition events from a Source.
package connectivity

import (
	"log/slog"
	"sync"

	"github.com/storefront/navcore/pkg/metrics"
)

// Source delivers platform-level connectivity transitions. Production
// uses the operstate watcher; tests inject synthetic transitions.
type Source interface {
	// Events yields true for online, false for offline.
	Events() <-chan bool
	Close() error
}

// OfflineChecker answers whether a route's content is already cached
// and can be served offline. The cache worker behind it is outside the
// core.
type OfflineChecker interface {
	ShouldHandleOffline(route string) bool
}

// Monitor tracks the current connectivity state and notifies
// subscribers once per genuine transition. Duplicate events from the
// source (same state reported twice) are suppressed.
type Monitor struct {
	mu      sync.Mutex
	online  bool
	subs    map[int]func(online bool)
	nextSub int

	src     Source
	checker OfflineChecker
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewMonitor creates a monitor starting in the given state. checker may
// be nil, in which case no route is considered servable offline.
func NewMonitor(src Source, checker OfflineChecker, initialOnline bool) *Monitor {
	m := &Monitor{
		online:  initialOnline,
		subs:    make(map[int]func(bool)),
		src:     src,
		checker: checker,
		done:    make(chan struct{}),
	}
	if initialOnline {
		metrics.ConnectivityOnline.Set(1)
	} else {
		metrics.ConnectivityOnline.Set(0)
	}
	return m
}

// Start begins consuming source events. No-op when the monitor has no
// source (tests may drive transitions through a ChanSource instead).
func (m *Monitor) Start() {
	if m.src == nil {
		return
	}
	m.wg.Add(1)
	go m.run()
}

// Close stops event consumption and releases the source.
func (m *Monitor) Close() error {
	close(m.done)
	m.wg.Wait()
	if m.src != nil {
		return m.src.Close()
	}
	return nil
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange subscribes to connectivity transitions. The callback fires
// once per genuine transition, never synthetically duplicated. The
// returned function removes the subscription.
func (m *Monitor) OnChange(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// ShouldHandleOffline asks the cooperating cache worker whether route
// content is available offline. Pure query, no mutation.
func (m *Monitor) ShouldHandleOffline(route string) bool {
	if m.checker == nil {
		return false
	}
	return m.checker.ShouldHandleOffline(route)
}

func (m *Monitor) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case online, ok := <-m.src.Events():
			if !ok {
				return
			}
			m.transition(online)
		}
	}
}

// transition applies a state change, suppressing duplicates.
func (m *Monitor) transition(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if online {
		metrics.ConnectivityOnline.Set(1)
		metrics.ConnectivityTransitions.WithLabelValues("online").Inc()
		slog.Info("connectivity restored")
	} else {
		metrics.ConnectivityOnline.Set(0)
		metrics.ConnectivityTransitions.WithLabelValues("offline").Inc()
		slog.Warn("connectivity lost")
	}

	for _, fn := range subs {
		fn(online)
	}
}
