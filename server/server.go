// Package server exposes the HTTP endpoints that trigger monitoring
// passes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"campsite-notifier/pkg/notifier"
)

// Poller runs monitoring passes.
type Poller interface {
	Sweep(ctx context.Context) *notifier.RunSummary
	CheckUser(ctx context.Context, userID string) *notifier.RunSummary
}

// Server handles HTTP requests.
type Server struct {
	poller Poller
	logger *slog.Logger
}

// New creates a new HTTP server handler.
func New(poller Poller, logger *slog.Logger) *Server {
	return &Server{poller: poller, logger: logger}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handlePoll)
	mux.HandleFunc("/checkz", s.handleCheck)
	return mux
}

// ListenAndServe starts the server on the given port.
func (s *Server) ListenAndServe(port string) error {
	// Timeouts prevent resource exhaustion; WriteTimeout must cover a
	// full sweep triggered through /pollz.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Minute,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return srv.ListenAndServe()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := fmt.Fprintln(w, "campsite-notifier: POST /pollz to sweep, POST /checkz?user=<id> for a manual check"); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Poll endpoint triggered")
	summary := s.poller.Sweep(r.Context())
	s.writeSummary(w, summary)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "user parameter required", http.StatusBadRequest)
		return
	}

	s.logger.Info("Manual check endpoint triggered", "user_id", userID)
	summary := s.poller.CheckUser(r.Context(), userID)
	s.writeSummary(w, summary)
}

func (s *Server) writeSummary(w http.ResponseWriter, summary *notifier.RunSummary) {
	w.Header().Set("Content-Type", "application/json")
	if summary.Error != "" {
		w.WriteHeader(http.StatusInternalServerError)
	}
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		s.logger.Warn("Failed to write summary response", "error", err)
	}
}
