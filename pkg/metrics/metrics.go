package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ledger metrics
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "navcore_events_total",
		Help: "Navigation events appended to the ledger, by type",
	}, []string{"type"})
	LedgerEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "navcore_ledger_evictions_total",
		Help: "Events evicted from the ledger at capacity",
	})

	// Timing metrics
	NavigationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "navcore_navigation_duration_seconds",
		Help:    "Time from navigation start to completion",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})
	TimingEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "navcore_timing_evictions_total",
		Help: "Abandoned in-flight timings evicted from the correlator",
	})
	TimingUnmatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "navcore_timing_unmatched_total",
		Help: "Completions that found no live timing to correlate",
	})

	// Queue metrics
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "navcore_queue_depth",
		Help: "Deferred actions currently pending",
	})
	QueueRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "navcore_queue_retries_total",
		Help: "Deferred action handler invocations that failed and were retained",
	})
	QueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "navcore_queue_drops_total",
		Help: "Deferred actions dropped after exhausting max attempts",
	})

	// Breaker metrics
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "navcore_breaker_state",
		Help: "Breaker state per service (0=closed, 1=half-open, 2=open)",
	}, []string{"service"})
	BreakerShortCircuits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "navcore_breaker_short_circuits_total",
		Help: "Calls rejected while a service breaker was open",
	}, []string{"service"})
	HealthScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "navcore_health_score",
		Help: "Aggregate service health score (0-100)",
	})

	// Connectivity metrics
	ConnectivityOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "navcore_connectivity_online",
		Help: "Current connectivity state (1=online, 0=offline)",
	})
	ConnectivityTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "navcore_connectivity_transitions_total",
		Help: "Connectivity transitions by direction",
	}, []string{"to"})
)

func init() {
	// Pre-initialize Vec metrics so they appear in /metrics output before first use.
	EventsTotal.WithLabelValues("navigation")
	EventsTotal.WithLabelValues("back_button")
	EventsTotal.WithLabelValues("error")
	EventsTotal.WithLabelValues("fallback")
	ConnectivityTransitions.WithLabelValues("online")
	ConnectivityTransitions.WithLabelValues("offline")
}

// HealthCheck holds a single health check function.
type HealthCheck struct {
	Name  string
	Check func() error
}

// HealthStatus represents the health response.
type HealthStatus struct {
	Status string            `json:"status"` // "ok" or "degraded"
	Checks map[string]string `json:"checks"`
}

// healthChecker holds registered health checks.
type healthChecker struct {
	mu     sync.RWMutex
	checks []HealthCheck
}

var defaultHealthChecker = &healthChecker{}

// RegisterHealthCheck adds a health check.
func RegisterHealthCheck(name string, check func() error) {
	defaultHealthChecker.mu.Lock()
	defer defaultHealthChecker.mu.Unlock()
	defaultHealthChecker.checks = append(defaultHealthChecker.checks, HealthCheck{
		Name:  name,
		Check: check,
	})
}

// runChecks runs all registered health checks.
func runChecks() HealthStatus {
	defaultHealthChecker.mu.RLock()
	checks := make([]HealthCheck, len(defaultHealthChecker.checks))
	copy(checks, defaultHealthChecker.checks)
	defaultHealthChecker.mu.RUnlock()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]string),
	}

	for _, hc := range checks {
		if err := hc.Check(); err != nil {
			status.Status = "degraded"
			status.Checks[hc.Name] = err.Error()
		} else {
			status.Checks[hc.Name] = "ok"
		}
	}
	return status
}

// HealthzHandler handles GET /healthz requests.
func HealthzHandler(w http.ResponseWriter, r *http.Request) {
	status := runChecks()
	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

// MetricsServer starts an HTTP server for /metrics and /healthz on the given addr.
// It blocks until the provided stop channel is closed, then shuts down gracefully.
func MetricsServer(addr string, stop <-chan struct{}) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", HealthzHandler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	case err := <-errCh:
		return err
	}
}
