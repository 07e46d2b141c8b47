// Package breaker guards outbound service calls with a per-service
// closed/open/half-open state machine, so a degraded backend fails fast
// instead of cascading.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/storefront/navcore/pkg/metrics"
)

// State is a breaker position.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// ErrOpen is returned when a call is short-circuited because the
// service's breaker is open. Callers receive it immediately; no call is
// attempted.
var ErrOpen = errors.New("breaker: service unavailable")

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessRateFloor float64       // open when rolling success rate drops below (window must be full)
	WindowSize       int           // rolling outcome window per service
	CoolDown         time.Duration // open duration before a half-open trial
	MaxCoolDown      time.Duration // backoff cap for repeatedly re-opened services
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessRateFloor <= 0 {
		c.SuccessRateFloor = 0.5
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 20
	}
	if c.CoolDown <= 0 {
		c.CoolDown = 30 * time.Second
	}
	if c.MaxCoolDown <= 0 {
		c.MaxCoolDown = 5 * time.Minute
	}
}

// serviceHealth tracks one named service.
type serviceHealth struct {
	state               State
	consecutiveFailures int
	window              []bool // rolling outcomes, newest last
	openedAt            time.Time
	coolDown            time.Duration // doubles on repeated re-opens
	trialInFlight       bool
}

// ServiceStatus is a read-only view of one service's health.
type ServiceStatus struct {
	Service             string    `json:"service"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	SuccessRate         float64   `json:"success_rate"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// Breaker manages breakers for any number of named services. Services
// are created lazily in the Closed state on first call.
type Breaker struct {
	mu       sync.Mutex
	services map[string]*serviceHealth
	cfg      Config
	now      func() time.Time

	// onTransition, when set, observes every state change. The agent
	// installs nav.BreakerEventHook here to mirror transitions into the
	// event ledger.
	onTransition func(service string, from, to State)
}

// New creates a breaker registry.
func New(cfg Config, onTransition func(service string, from, to State)) *Breaker {
	cfg.applyDefaults()
	return &Breaker{
		services:     make(map[string]*serviceHealth),
		cfg:          cfg,
		now:          time.Now,
		onTransition: onTransition,
	}
}

// Call runs fn under the service's breaker. When the breaker is open
// and the cool-down has not elapsed, fn is not invoked and ErrOpen is
// returned. In half-open state a single trial call is admitted;
// concurrent callers fail fast until the trial resolves.
func (b *Breaker) Call(ctx context.Context, service string, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	sh := b.serviceLocked(service)

	switch sh.state {
	case Open:
		if b.now().Sub(sh.openedAt) < sh.coolDown {
			b.mu.Unlock()
			metrics.BreakerShortCircuits.WithLabelValues(service).Inc()
			return ErrOpen
		}
		b.transitionLocked(service, sh, HalfOpen)
		sh.trialInFlight = true
	case HalfOpen:
		if sh.trialInFlight {
			b.mu.Unlock()
			metrics.BreakerShortCircuits.WithLabelValues(service).Inc()
			return ErrOpen
		}
		sh.trialInFlight = true
	}
	b.mu.Unlock()

	// Recording in a defer keeps a half-open trial claim from leaking
	// when fn panics; the panic itself counts as a failed call.
	success := false
	defer func() { b.record(service, success) }()
	err := fn(ctx)
	success = err == nil
	return err
}

// record applies one call outcome to the service's state machine.
func (b *Breaker) record(service string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sh := b.serviceLocked(service)
	sh.window = append(sh.window, success)
	if len(sh.window) > b.cfg.WindowSize {
		sh.window = sh.window[len(sh.window)-b.cfg.WindowSize:]
	}

	switch sh.state {
	case HalfOpen:
		sh.trialInFlight = false
		if success {
			// Trial passed: close and reset counters.
			sh.consecutiveFailures = 0
			sh.coolDown = b.cfg.CoolDown
			b.transitionLocked(service, sh, Closed)
		} else {
			// Trial failed: re-open with backoff.
			sh.openedAt = b.now()
			sh.coolDown *= 2
			if sh.coolDown > b.cfg.MaxCoolDown {
				sh.coolDown = b.cfg.MaxCoolDown
			}
			b.transitionLocked(service, sh, Open)
		}
	case Closed:
		if success {
			sh.consecutiveFailures = 0
			break
		}
		sh.consecutiveFailures++
		if sh.consecutiveFailures >= b.cfg.FailureThreshold || b.rateBelowFloorLocked(sh) {
			sh.openedAt = b.now()
			b.transitionLocked(service, sh, Open)
		}
	}

	b.updateHealthScoreLocked()
}

// rateBelowFloorLocked reports whether a full rolling window has a
// success rate under the configured floor.
func (b *Breaker) rateBelowFloorLocked(sh *serviceHealth) bool {
	if len(sh.window) < b.cfg.WindowSize {
		return false
	}
	return successRate(sh.window) < b.cfg.SuccessRateFloor
}

// State returns the current state for a service. Unknown services are
// Closed.
func (b *Breaker) State(service string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	sh, ok := b.services[service]
	if !ok {
		return Closed
	}
	return sh.state
}

// ForceReset clears all services back to Closed with zeroed counters.
// Operator escape hatch, not part of the normal flow.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, sh := range b.services {
		if sh.state != Closed {
			b.transitionLocked(name, sh, Closed)
		}
		sh.consecutiveFailures = 0
		sh.window = nil
		sh.coolDown = b.cfg.CoolDown
		sh.trialInFlight = false
	}
	b.updateHealthScoreLocked()
	slog.Info("breaker force-reset", "services", len(b.services))
}

// HealthScore aggregates all services' rolling success rates into a
// 0-100 score. Derived read, not persisted. No services means a
// perfect score.
func (b *Breaker) HealthScore() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthScoreLocked()
}

// Snapshot returns the status of every known service.
func (b *Breaker) Snapshot() []ServiceStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ServiceStatus, 0, len(b.services))
	for name, sh := range b.services {
		st := ServiceStatus{
			Service:             name,
			State:               sh.state,
			ConsecutiveFailures: sh.consecutiveFailures,
			SuccessRate:         successRate(sh.window),
		}
		if sh.state != Closed {
			st.OpenedAt = sh.openedAt
		}
		out = append(out, st)
	}
	return out
}

func (b *Breaker) serviceLocked(name string) *serviceHealth {
	sh, ok := b.services[name]
	if !ok {
		sh = &serviceHealth{
			state:    Closed,
			coolDown: b.cfg.CoolDown,
		}
		b.services[name] = sh
		metrics.BreakerState.WithLabelValues(name).Set(stateGaugeValue(Closed))
	}
	return sh
}

func (b *Breaker) transitionLocked(service string, sh *serviceHealth, to State) {
	from := sh.state
	if from == to {
		return
	}
	sh.state = to
	metrics.BreakerState.WithLabelValues(service).Set(stateGaugeValue(to))

	switch to {
	case Open:
		slog.Warn("breaker opened", "service", service,
			"consecutive_failures", sh.consecutiveFailures, "cool_down", sh.coolDown)
	case HalfOpen:
		slog.Info("breaker half-open, admitting trial", "service", service)
	case Closed:
		slog.Info("breaker closed", "service", service)
	}

	if b.onTransition != nil {
		b.onTransition(service, from, to)
	}
}

func (b *Breaker) healthScoreLocked() int {
	if len(b.services) == 0 {
		return 100
	}
	var sum float64
	for _, sh := range b.services {
		sum += successRate(sh.window)
	}
	return int(sum / float64(len(b.services)) * 100)
}

func (b *Breaker) updateHealthScoreLocked() {
	metrics.HealthScore.Set(float64(b.healthScoreLocked()))
}

// successRate over a window; an empty window counts as fully healthy.
func successRate(window []bool) float64 {
	if len(window) == 0 {
		return 1.0
	}
	ok := 0
	for _, s := range window {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(window))
}

func stateGaugeValue(s State) float64 {
	switch s {
	case Open:
		return 2
	case HalfOpen:
		return 1
	default:
		return 0
	}
}
