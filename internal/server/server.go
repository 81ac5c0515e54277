// Package server provides the HTTP control API: health and status, pipeline
// statistics and gate state, configuration reload, mapping edits, action
// history and a websocket event stream.
package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/hasta/internal/config"
	"github.com/ayusman/hasta/internal/server/api"
	"github.com/ayusman/hasta/internal/stats"
	"github.com/ayusman/hasta/internal/store"
)

// Pipeline is the pipeline surface the API exposes.
type Pipeline interface {
	Stats() stats.Counters
	ResetStats()
	ActiveCooldowns() map[string]time.Duration
	ResetGates()
	Snapshot() *config.Snapshot
	TestConnection(ctx context.Context) bool
}

// ConfigManager loads and edits the configuration file.
type ConfigManager interface {
	api.MappingEditor
	Reload() error
}

// Config holds the server configuration.
type Config struct {
	StaticDir  string
	Pipeline   Pipeline
	Configs    ConfigManager
	Store      *store.Store
	Events     *EventHub
	IngestAddr string
	Logger     *zap.Logger
}

// Server is the HTTP control API.
type Server struct {
	config Config
	logger *zap.Logger
	mux    *http.ServeMux
	start  time.Time
}

// New creates a Server. Routes whose dependency is nil are not registered.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config: config,
		logger: logger,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Pipeline != nil {
		s.mux.HandleFunc("/api/status", s.handleStatus)
		s.mux.HandleFunc("/api/stats", s.handleStats)
		s.mux.HandleFunc("/api/stats/reset", s.handleStatsReset)
		s.mux.HandleFunc("/api/cooldowns", s.handleCooldowns)
		s.mux.HandleFunc("/api/gates/reset", s.handleGatesReset)
	}

	if s.config.Configs != nil {
		s.mux.HandleFunc("/api/config/reload", s.handleConfigReload)
		mappings := api.NewMappingHandler(s.config.Configs)
		s.mux.Handle("/api/mappings", mappings)
		s.mux.Handle("/api/mappings/", mappings)
	}

	if s.config.Store != nil {
		s.mux.Handle("/api/history", api.NewHistoryHandler(s.config.Store))
	}

	if s.config.Events != nil {
		s.mux.Handle("/api/events", s.config.Events)
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// HTTPServer returns an http.Server serving s on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

type statusResponse struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	CooldownSeconds     float64 `json:"cooldown_seconds"`
	MinHoldTimeSeconds  float64 `json:"min_hold_time_seconds"`
	HoldIdleSeconds     float64 `json:"hold_idle_timeout_seconds"`
	Mappings            int     `json:"mappings"`
	ActuatorConnected   bool    `json:"actuator_connected"`
	IngestAddr          string  `json:"ingest_addr,omitempty"`
	Subscribers         int     `json:"subscribers"`
}

// handleStatus handles GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.config.Pipeline.Snapshot()
	resp := statusResponse{
		ConfidenceThreshold: snap.ConfidenceThreshold,
		CooldownSeconds:     snap.Cooldown.Seconds(),
		MinHoldTimeSeconds:  snap.MinHoldTime.Seconds(),
		HoldIdleSeconds:     snap.HoldIdleTimeout.Seconds(),
		Mappings:            snap.Len(),
		ActuatorConnected:   s.config.Pipeline.TestConnection(r.Context()),
		IngestAddr:          s.config.IngestAddr,
	}
	if s.config.Events != nil {
		resp.Subscribers = s.config.Events.ClientCount()
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	api.WriteJSON(w, http.StatusOK, s.config.Pipeline.Stats())
}

// handleStatsReset handles POST /api/stats/reset.
func (s *Server) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.config.Pipeline.ResetStats()
	api.WriteJSON(w, http.StatusOK, s.config.Pipeline.Stats())
}

// handleCooldowns handles GET /api/cooldowns. Values are remaining seconds.
func (s *Server) handleCooldowns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	active := s.config.Pipeline.ActiveCooldowns()
	out := make(map[string]float64, len(active))
	for key, remaining := range active {
		out[key] = remaining.Seconds()
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"cooldowns": out})
}

// handleGatesReset handles POST /api/gates/reset.
func (s *Server) handleGatesReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.config.Pipeline.ResetGates()
	api.WriteJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

// handleConfigReload handles POST /api/config/reload.
func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.config.Configs.Reload(); err != nil {
		s.logger.Warn("Configuration reload rejected", zap.Error(err))
		api.WriteError(w, http.StatusBadRequest, "Configuration reload failed", err.Error())
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "reloaded",
		"mappings": len(s.config.Configs.File().Mappings),
	})
}
