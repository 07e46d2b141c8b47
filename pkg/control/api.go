package control

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/storefront/navcore/pkg/breaker"
)

// RegisterAPIRoutes registers all REST API routes on the given mux.
func (s *Server) RegisterAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/export", s.handleExport)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/events/stream", s.handleEventsStream)
	mux.HandleFunc("GET /api/v1/metrics/summary", s.handleMetricsSummary)
	mux.HandleFunc("GET /api/v1/queue", s.handleQueue)
	mux.HandleFunc("GET /api/v1/breaker", s.handleBreaker)
	mux.HandleFunc("POST /api/v1/breaker/reset", s.handleBreakerReset)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
}

// GET /api/v1/export
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.deps.Coordinator.ExportMetrics())
}

// GET /api/v1/events?limit=50
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	events := s.deps.Ledger.Recent(limit)
	writeJSON(w, events)
}

// GET /api/v1/metrics/summary?top=10
func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	top := parseIntParam(r, "top", 10)
	writeJSON(w, s.deps.Ledger.Metrics(top))
}

// GET /api/v1/queue
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.deps.Queue.Pending())
}

// breakerStatus is the /api/v1/breaker response body.
type breakerStatus struct {
	HealthScore int                     `json:"health_score"`
	Services    []breaker.ServiceStatus `json:"services"`
}

// GET /api/v1/breaker
func (s *Server) handleBreaker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, breakerStatus{
		HealthScore: s.deps.Breaker.HealthScore(),
		Services:    s.deps.Breaker.Snapshot(),
	})
}

// POST /api/v1/breaker/reset
func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	s.deps.Breaker.ForceReset()
	writeJSON(w, map[string]string{"status": "ok"})
}

// GET /api/v1/history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.deps.History.Snapshot())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
