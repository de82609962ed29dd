// Package status serves the loopback observability endpoints: /health
// with the sync core's current state, /logs from the in-memory ring
// buffer, and optionally Prometheus metrics. The listener binds to
// loopback only so local tooling (systemd, Prometheus, curl) can probe
// the daemon without reaching the chat gateway.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jagjeet027/FurniMart-sub002/internal/chat"
	"github.com/jagjeet027/FurniMart-sub002/internal/config"
	"github.com/jagjeet027/FurniMart-sub002/internal/logring"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status          string   `json:"status"`
	ConnectionState string   `json:"connection_state"`
	Uptime          string   `json:"uptime"`
	ActiveRoom      string   `json:"active_room,omitempty"`
	Version         string   `json:"version,omitempty"`
	Timestamp       string   `json:"timestamp"`
	Details         *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	Messages    int     `json:"messages"`
	TypingPeers int     `json:"typing_peers"`
	OnlineUsers int     `json:"online_users"`
	MemoryMB    float64 `json:"memory_mb"`
}

// core is the slice of the chat client the handlers read.
type core interface {
	Snapshot() chat.Status
}

// Server is the loopback status listener.
type Server struct {
	cfg       config.StatusConfig
	core      core
	ring      *logring.RingBuffer // optional
	version   string
	startTime time.Time
	srv       *http.Server
}

// NewServer builds the status server. ring may be nil when log capture
// is disabled; metricsHandler may be nil when metrics are disabled.
func NewServer(cfg config.StatusConfig, c core, ring *logring.RingBuffer, version, metricsEndpoint string, metricsEnabled bool) *Server {
	s := &Server{
		cfg:       cfg,
		core:      c,
		ring:      ring,
		version:   version,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/logs", s.handleLogs)
	if metricsEnabled {
		mux.Handle(metricsEndpoint, promhttp.Handler())
	}

	s.srv = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the listener in the background.
func (s *Server) Start() {
	go func() {
		slog.Info("status listener started", "address", s.cfg.ListenAddress)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status listener failed", "error", err)
		}
	}()
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleHealth reports the sync core's state. The listener answering at
// all means the process is alive; the payload distinguishes a healthy
// connection from a degraded one, with the HTTP code mirroring it so
// probes need not parse the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.core.Snapshot()

	status := "ok"
	httpCode := http.StatusOK
	if snap.ConnectionState != "connected" {
		status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	resp := HealthResponse{
		Status:          status,
		ConnectionState: snap.ConnectionState,
		Uptime:          time.Since(s.startTime).Round(time.Second).String(),
		ActiveRoom:      snap.ActiveRoom,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}

	if s.cfg.Detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = s.version
		resp.Details = &Details{
			Messages:    snap.Messages,
			TypingPeers: snap.TypingPeers,
			OnlineUsers: snap.OnlineUsers,
			MemoryMB:    float64(memStats.Alloc) / 1024 / 1024,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(resp)
}

// LogsResponse is the JSON response from the /logs endpoint.
type LogsResponse struct {
	Count   int               `json:"count"`
	Entries []logring.LogEntry `json:"entries"`
}

// handleLogs returns recent log entries, newest first. Query params:
// limit (default 100) and level (debug|info|warn|error, default info).
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.ring == nil {
		http.Error(w, "log capture disabled", http.StatusNotFound)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	minLevel := slog.LevelInfo
	if raw := r.URL.Query().Get("level"); raw != "" {
		if err := minLevel.UnmarshalText([]byte(raw)); err != nil {
			http.Error(w, "invalid level", http.StatusBadRequest)
			return
		}
	}

	entries := s.ring.Entries(limit, minLevel)
	if entries == nil {
		entries = []logring.LogEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LogsResponse{Count: len(entries), Entries: entries})
}
