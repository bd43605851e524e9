// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedlens/deliver"
	"feedlens/display"
)

// Trigger requests an immediate collection pass.
type Trigger interface {
	Trigger()
}

// Resender replays batches that previously exhausted their retries.
type Resender interface {
	ResendPending(ctx context.Context) (int, error)
}

// StatsSource exposes the delivery counters for /statz.
type StatsSource interface {
	Stats() deliver.Stats
}

// ModeSwitcher changes the active display mode.
type ModeSwitcher interface {
	Mode() display.Mode
	SetMode(display.Mode)
}

// Server handles HTTP requests.
type Server struct {
	observer Trigger
	resender Resender
	stats    StatsSource
	modes    ModeSwitcher
	logger   *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Observer Trigger
	Resender Resender
	Stats    StatsSource
	Modes    ModeSwitcher
	Logger   *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		observer: cfg.Observer,
		resender: cfg.Resender,
		stats:    cfg.Stats,
		modes:    cfg.Modes,
		logger:   cfg.Logger,
	}
}

// ListenAndServe sets up all routes and starts the server.
func (s *Server) ListenAndServe(port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/collectz", s.handleCollect)
	mux.HandleFunc("/resendz", s.handleResend)
	mux.HandleFunc("/statz", s.handleStats)
	mux.HandleFunc("/modez", s.handleMode)
	mux.Handle("/metrics", promhttp.Handler())

	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
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

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Collection endpoint triggered")
	s.observer.Trigger()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if _, err := fmt.Fprint(w, `{"status":"triggered"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Resend endpoint triggered")

	resent, err := s.resender.ResendPending(r.Context())
	if err != nil {
		s.logger.Error("Pending resend failed", "error", err)
		http.Error(w, "Resend failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]int{"resent": resent}); err != nil {
		s.logger.Warn("Failed to write resend response", "error", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.stats.Stats()); err != nil {
		s.logger.Warn("Failed to write stats response", "error", err)
	}
}

// handleMode reads or switches the display mode: GET returns the active
// mode, POST {"mode": "..."} switches it and triggers a repaint pass.
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]display.Mode{"mode": s.modes.Mode()}); err != nil {
			s.logger.Warn("Failed to write mode response", "error", err)
		}
	case http.MethodPost:
		var req struct {
			Mode display.Mode `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode == "" {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		s.modes.SetMode(req.Mode)
		s.observer.Trigger()
		w.Header().Set("Content-Type", "application/json")
		if _, err := fmt.Fprint(w, `{"status":"switched"}`); err != nil {
			s.logger.Warn("Failed to write mode response", "error", err)
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
