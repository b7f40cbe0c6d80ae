// Package status exposes a small read-only HTTP view over the state
// store: run history and the VIP and draft-block lists. It is enabled by
// automation.status_addr and never mutates anything.
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"email-triage/internal/store"
)

const defaultRunsLimit = 20

// Server serves the status API.
type Server struct {
	store  *store.Store
	logger *slog.Logger
	http   *http.Server
}

// NewServer builds a status server listening on addr.
func NewServer(addr string, st *store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: st, logger: logger}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/runs", s.handleRuns)
	r.Get("/api/vips", s.handleVIPs)
	r.Get("/api/blocked", s.handleBlocked)
	return r
}

// Handler returns the route tree, used directly in tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until Shutdown. It runs in its own goroutine next to the
// daemon loop.
func (s *Server) Start() {
	s.logger.Info("status server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("status server failed", "error", err)
	}
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type healthResponse struct {
	Status  string `json:"status"`
	StateDB string `json:"state_db"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := healthResponse{Status: "healthy", StateDB: s.store.Path()}
	// A cheap read proves the database is reachable.
	if _, err := s.store.RecentRuns(1); err != nil {
		response.Status = "unhealthy"
		response.Message = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	runs, err := s.store.RecentRuns(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleVIPs(w http.ResponseWriter, r *http.Request) {
	vips, err := s.store.ListVIPSenders()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if vips == nil {
		vips = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"vip_senders": vips})
}

func (s *Server) handleBlocked(w http.ResponseWriter, r *http.Request) {
	blocked, err := s.store.ListDraftBlockedSenders()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if blocked == nil {
		blocked = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"draft_blocked_senders": blocked})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
