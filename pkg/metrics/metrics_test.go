package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthzHandler_AllHealthy(t *testing.T) {
	defaultHealthChecker.mu.Lock()
	defaultHealthChecker.checks = nil
	defaultHealthChecker.mu.Unlock()
	RegisterHealthCheck("test-ok", func() error { return nil })
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	HealthzHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "ok" {
		t.Fatalf("expected ok, got %q", status.Status)
	}
}

func TestHealthzHandler_Degraded(t *testing.T) {
	defaultHealthChecker.mu.Lock()
	defaultHealthChecker.checks = nil
	defaultHealthChecker.mu.Unlock()
	RegisterHealthCheck("healthy", func() error { return nil })
	RegisterHealthCheck("broken", func() error { return errors.New("store unavailable") })
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	HealthzHandler(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "degraded" {
		t.Fatalf("expected degraded, got %q", status.Status)
	}
}

func TestHealthzHandler_NoChecks(t *testing.T) {
	defaultHealthChecker.mu.Lock()
	defaultHealthChecker.checks = nil
	defaultHealthChecker.mu.Unlock()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	HealthzHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsCounters(t *testing.T) {
	EventsTotal.WithLabelValues("navigation").Inc()
	LedgerEvictions.Inc()
	NavigationDuration.Observe(0.12)
	TimingEvictions.Inc()
	TimingUnmatched.Inc()
	QueueDepth.Set(3)
	QueueRetries.Inc()
	QueueDrops.Inc()
	BreakerState.WithLabelValues("orders").Set(2)
	BreakerShortCircuits.WithLabelValues("orders").Inc()
	HealthScore.Set(87)
	ConnectivityOnline.Set(1)
	ConnectivityTransitions.WithLabelValues("offline").Inc()
}

func TestRegisterHealthCheck_Concurrent(t *testing.T) {
	defaultHealthChecker.mu.Lock()
	defaultHealthChecker.checks = nil
	defaultHealthChecker.mu.Unlock()
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			RegisterHealthCheck("test", func() error { return nil })
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	status := runChecks()
	if status.Status != "ok" {
		t.Fatalf("expected ok, got %s", status.Status)
	}
}
