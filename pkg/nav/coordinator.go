// Package nav glues the resilience services together: it owns the
// navigation control flow, feeds the event ledger, and reacts to
// connectivity transitions.
package nav

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/storefront/navcore/pkg/breaker"
	"github.com/storefront/navcore/pkg/connectivity"
	"github.com/storefront/navcore/pkg/fallback"
	"github.com/storefront/navcore/pkg/history"
	"github.com/storefront/navcore/pkg/ledger"
	"github.com/storefront/navcore/pkg/notify"
	"github.com/storefront/navcore/pkg/queue"
	"github.com/storefront/navcore/pkg/timing"
)

// Router is the external routing surface. It performs the actual
// transition and later reports "route changed" back through Complete.
type Router interface {
	Navigate(route string) error
}

// Deps are the coordinator's collaborators. All are required except
// Router and Notifier, which degrade to no-ops when nil.
type Deps struct {
	Ledger       *ledger.Ledger
	Timing       *timing.Correlator
	History      *history.Tracker
	Connectivity *connectivity.Monitor
	Queue        *queue.Queue
	Breaker      *breaker.Breaker
	Fallback     *fallback.Resolver
	Router       Router
	Notifier     notify.Notifier

	// TopRoutes bounds the per-route frequency list in exports.
	TopRoutes int
	// RecentEvents bounds the event tail included in exports.
	RecentEvents int
}

// Coordinator drives navigations through the resilience services.
type Coordinator struct {
	ledger       *ledger.Ledger
	timing       *timing.Correlator
	history      *history.Tracker
	connectivity *connectivity.Monitor
	queue        *queue.Queue
	breaker      *breaker.Breaker
	fallback     *fallback.Resolver
	router       Router
	notifier     notify.Notifier

	topRoutes    int
	recentEvents int

	unsubscribe func()
	now         func() time.Time
}

// navigatePayload is the deferred "navigate" action body.
type navigatePayload struct {
	Route string `json:"route"`
}

// New wires a coordinator and registers the deferred "navigate"
// handler. Call Start to subscribe to connectivity transitions.
func New(d Deps) *Coordinator {
	if d.TopRoutes <= 0 {
		d.TopRoutes = 10
	}
	if d.RecentEvents <= 0 {
		d.RecentEvents = 50
	}
	c := &Coordinator{
		ledger:       d.Ledger,
		timing:       d.Timing,
		history:      d.History,
		connectivity: d.Connectivity,
		queue:        d.Queue,
		breaker:      d.Breaker,
		fallback:     d.Fallback,
		router:       d.Router,
		notifier:     d.Notifier,
		topRoutes:    d.TopRoutes,
		recentEvents: d.RecentEvents,
		now:          time.Now,
	}

	c.queue.RegisterHandler("navigate", func(ctx context.Context, payload json.RawMessage) error {
		var p navigatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("nav: decode navigate payload: %w", err)
		}
		if c.router == nil {
			return errors.New("nav: no router attached")
		}
		return c.router.Navigate(p.Route)
	})
	return c
}

// Start subscribes to connectivity transitions: reconnects drain the
// deferred queue, disconnects flip offline mode. Both notify the user.
func (c *Coordinator) Start() {
	c.unsubscribe = c.connectivity.OnChange(func(online bool) {
		if online {
			c.history.SetOffline(false)
			res := c.queue.Process(context.Background())
			slog.Info("reconnected, deferred queue drained",
				"processed", res.Processed, "succeeded", res.Succeeded,
				"failed", res.Failed, "dropped", res.Dropped)
			c.show("Back online")
		} else {
			c.history.SetOffline(true)
			c.show("You're offline. Some actions will be retried when the connection returns.")
		}
	})
}

// Close removes the connectivity subscription.
func (c *Coordinator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// Begin starts a navigation. It returns the correlation id and the
// route to actually load. Offline with uncached content, the target is
// the fallback route, a Fallback event is recorded, the user is
// notified, and the original route is deferred for replay on reconnect.
func (c *Coordinator) Begin(route, kind string) (id, target string) {
	if !c.connectivity.Online() && !c.connectivity.ShouldHandleOffline(route) {
		fb := c.fallback.Resolve(route)
		c.ledger.Append(ledger.Event{
			Type:  ledger.EventFallback,
			Route: route,
			Metadata: map[string]any{
				"fallback": fb,
				"reason":   "offline",
			},
		})
		if _, err := c.queue.Enqueue("navigate", navigatePayload{Route: route}, 0); err != nil {
			slog.Warn("deferring offline navigation failed", "route", route, "error", err)
		}
		c.show("You're offline. Showing " + fb + " instead.")
		return "", fb
	}

	c.history.SetNavigating(true)
	return c.timing.Start(route, kind), route
}

// Complete handles the router's "route changed" notification: resolves
// the navigation's timing, updates history, and records the event. A
// missing timing is expected on first load, not an error.
func (c *Coordinator) Complete(route, id string) {
	t, elapsed, ok := c.timing.Complete(route, id)

	c.history.UpdateRoute(route, id)
	c.history.ClearFailedNavigation(route)

	evt := ledger.Event{
		Type:          ledger.EventNavigation,
		Route:         route,
		CorrelationID: id,
	}
	if ok {
		evt.CorrelationID = t.ID
		evt.DurationMs = ledger.DurationOf(elapsed)
		if t.Kind == "back" {
			evt.Type = ledger.EventBackButton
		}
	}
	c.ledger.Append(evt)
}

// Back pops the history stack and routes to the entry below the
// current one. Returns ok=false when no safe back-target exists.
func (c *Coordinator) Back() (string, bool) {
	target, ok := c.history.Pop()
	if !ok {
		return "", false
	}
	id := c.timing.Start(target, "back")
	if c.router != nil {
		if err := c.router.Navigate(target); err != nil {
			slog.Warn("back navigation failed", "route", target, "error", err)
			c.Fail(target, id, err)
			return "", false
		}
	}
	return target, true
}

// Fail records a failed navigation and returns the fallback route the
// caller should load instead.
func (c *Coordinator) Fail(route, id string, cause error) string {
	// Discard the live timing; the transition is terminal either way.
	_, elapsed, ok := c.timing.Complete(route, id)

	c.history.TrackFailedNavigation(route)
	c.history.SetNavigating(false)

	fb := c.fallback.Resolve(route)
	evt := ledger.Event{
		Type:          ledger.EventError,
		Route:         route,
		CorrelationID: id,
		Metadata: map[string]any{
			"fallback": fb,
		},
	}
	if cause != nil {
		evt.Metadata["error"] = cause.Error()
	}
	if ok {
		evt.DurationMs = ledger.DurationOf(elapsed)
	}
	c.ledger.Append(evt)

	c.show("Something went wrong. Taking you to " + fb + ".")
	return fb
}

// RecordRuntimeError captures a navigation-related runtime error as a
// ledger event. Diagnostic side channel only; nothing is retried.
func (c *Coordinator) RecordRuntimeError(route string, cause error) {
	evt := ledger.Event{
		Type:  ledger.EventError,
		Route: route,
		Metadata: map[string]any{
			"source": "runtime",
		},
	}
	if cause != nil {
		evt.Metadata["error"] = cause.Error()
	}
	c.ledger.Append(evt)
}

// Call wraps an outbound backend call in the service's breaker. A
// short-circuit is recorded as an Error event before returning
// breaker.ErrOpen to the caller.
func (c *Coordinator) Call(ctx context.Context, service string, fn func(ctx context.Context) error) error {
	err := c.breaker.Call(ctx, service, fn)
	if errors.Is(err, breaker.ErrOpen) {
		c.ledger.Append(ledger.Event{
			Type:  ledger.EventError,
			Route: c.history.Snapshot().CurrentRoute,
			Metadata: map[string]any{
				"service": service,
				"reason":  "service_unavailable",
			},
		})
	}
	return err
}

// BreakerEventHook returns a transition hook for breaker.New that
// records every breaker state change as a ledger event, so service
// degradations and recoveries show up alongside navigation events.
func BreakerEventHook(led *ledger.Ledger) func(service string, from, to breaker.State) {
	return func(service string, from, to breaker.State) {
		led.Append(ledger.Event{
			Type: ledger.EventError,
			Metadata: map[string]any{
				"service": service,
				"reason":  "breaker_transition",
				"from":    string(from),
				"to":      string(to),
			},
		})
	}
}

// ClientContext is the environment snapshot included in exports.
type ClientContext struct {
	CurrentRoute   string `json:"current_route"`
	PreviousRoute  string `json:"previous_route"`
	Online         bool   `json:"online"`
	OfflineMode    bool   `json:"offline_mode"`
	HistoryLength  int    `json:"history_length"`
	PendingActions int    `json:"pending_actions"`
	LiveTimings    int    `json:"live_timings"`
	HealthScore    int    `json:"health_score"`
}

// ExportBundle is the serializable metrics export. SchemaVersion guards
// external consumers against shape changes.
type ExportBundle struct {
	SchemaVersion int            `json:"schema_version"`
	Timestamp     time.Time      `json:"timestamp"`
	Metrics       ledger.Metrics `json:"metrics"`
	RecentEvents  []ledger.Event `json:"recent_events"`
	ClientContext ClientContext  `json:"client_context"`
}

// ExportSchemaVersion is bumped whenever the bundle shape changes.
const ExportSchemaVersion = 1

// ExportMetrics assembles the current telemetry into a plain
// serializable bundle for operator tooling.
func (c *Coordinator) ExportMetrics() ExportBundle {
	st := c.history.Snapshot()
	return ExportBundle{
		SchemaVersion: ExportSchemaVersion,
		Timestamp:     c.now(),
		Metrics:       c.ledger.Metrics(c.topRoutes),
		RecentEvents:  c.ledger.Recent(c.recentEvents),
		ClientContext: ClientContext{
			CurrentRoute:   st.CurrentRoute,
			PreviousRoute:  st.PreviousRoute,
			Online:         c.connectivity.Online(),
			OfflineMode:    st.OfflineMode,
			HistoryLength:  len(st.History),
			PendingActions: c.queue.Len(),
			LiveTimings:    c.timing.Live(),
			HealthScore:    c.breaker.HealthScore(),
		},
	}
}

func (c *Coordinator) show(message string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Show(message)
}
