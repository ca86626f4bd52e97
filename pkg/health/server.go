// Package health serves liveness, readiness and tracking control endpoints
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/starfail/geotrack/pkg/logx"
	"github.com/starfail/geotrack/pkg/telem"
	"github.com/starfail/geotrack/pkg/tracker"
)

// Tracker is the session surface controlled over HTTP
type Tracker interface {
	Start(ctx context.Context) error
	Stop() bool
	Snapshot() tracker.Snapshot
}

// Server provides health check endpoints for geotrackd
type Server struct {
	tracker   Tracker
	store     *telem.Store
	hub       *Hub
	logger    *logx.Logger
	server    *http.Server
	baseCtx   context.Context
	startTime time.Time
	version   string
}

const recentTrackPoints = 10

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version"`
	Session   tracker.Snapshot  `json:"session"`
	Telemetry *telem.Stats      `json:"telemetry,omitempty"`
	Track     []telem.TrackPoint `json:"recent_track,omitempty"`
	Memory    *MemoryInfo       `json:"memory,omitempty"`
	Clients   int               `json:"stream_clients"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// MemoryInfo represents memory usage information
type MemoryInfo struct {
	Alloc     uint64 `json:"alloc_bytes"`
	Sys       uint64 `json:"sys_bytes"`
	HeapAlloc uint64 `json:"heap_alloc_bytes"`
	HeapInuse uint64 `json:"heap_inuse_bytes"`
	NumGC     uint32 `json:"num_gc"`
}

// NewServer creates a new health server. baseCtx bounds sessions started
// through POST /tracking/start.
func NewServer(baseCtx context.Context, trk Tracker, store *telem.Store, hub *Hub, version string, logger *logx.Logger) *Server {
	return &Server{
		tracker:   trk,
		store:     store,
		hub:       hub,
		logger:    logger,
		baseCtx:   baseCtx,
		startTime: time.Now(),
		version:   version,
	}
}

// Handler returns the routed endpoints
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/health/detailed", s.detailedHealthHandler)
	mux.HandleFunc("/health/ready", s.readyHandler)
	mux.HandleFunc("/health/live", s.liveHandler)
	mux.HandleFunc("/tracking/start", s.startHandler)
	mux.HandleFunc("/tracking/stop", s.stopHandler)
	if s.store != nil {
		mux.HandleFunc("/telemetry/track", s.trackHandler)
		mux.HandleFunc("/telemetry/export", s.exportHandler)
	}
	if s.hub != nil {
		mux.Handle("/status/stream", s.hub)
	}
	return mux
}

// Start starts the health server
func (s *Server) Start(port int) error {
	s.logger.Info("Starting health server", "port", port)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Health server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the health server
func (s *Server) Stop() error {
	s.logger.Info("Stopping health server")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// healthHandler provides basic health status
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.getHealthStatus())
}

// detailedHealthHandler adds telemetry, memory and per-check detail
func (s *Server) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	status := s.getHealthStatus()

	if s.store != nil {
		st := s.store.GetStats()
		status.Telemetry = &st
		status.Track = s.store.GetTrack(recentTrackPoints)
	}
	status.Memory = getMemoryInfo()
	status.Checks = s.checks(status.Session)

	writeJSON(w, http.StatusOK, status)
}

// trackHandler returns accepted points, either the last ?limit= points
// (default 100) or those within ?since= (a duration such as 15m)
func (s *Server) trackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		since, err := time.ParseDuration(v)
		if err != nil || since <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid since duration"})
			return
		}
		writeJSON(w, http.StatusOK, s.store.GetTrackSince(since))
		return
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid limit"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.store.GetTrack(limit))
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.ExportJSON()
	if err != nil {
		s.logger.Error("telemetry export failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "export failed"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="geotrack-telemetry.json"`)
	_, _ = w.Write(data)
}

// readyHandler reports ready only while samples are flowing
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	if snap.State == tracker.StateTracking {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status": "not ready",
		"state":  snap.State.String(),
	})
}

// liveHandler provides liveness check
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"status": "error", "message": "method not allowed"})
		return
	}
	if err := s.tracker.Start(s.baseCtx); err != nil {
		if errors.Is(err, tracker.ErrAlreadyStarted) {
			writeJSON(w, http.StatusConflict, map[string]string{"status": "error", "message": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	s.logger.Info("tracking started over HTTP", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"status": "error", "message": "method not allowed"})
		return
	}
	if !s.tracker.Stop() {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "error", "message": "tracking is not running"})
		return
	}
	s.logger.Info("tracking stopped over HTTP", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// getHealthStatus maps the session state onto healthy, degraded or idle
func (s *Server) getHealthStatus() HealthStatus {
	snap := s.tracker.Snapshot()

	status := HealthStatus{
		Status:    sessionHealth(snap.State),
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   s.version,
		Session:   snap,
	}
	if s.hub != nil {
		status.Clients = s.hub.Clients()
	}
	return status
}

func sessionHealth(state tracker.State) string {
	switch state {
	case tracker.StateTracking:
		return "healthy"
	case tracker.StateStopped:
		return "idle"
	default:
		return "degraded"
	}
}

func (s *Server) checks(snap tracker.Snapshot) map[string]string {
	checks := map[string]string{
		"session":      snap.State.String(),
		"subscription": "inactive",
		"last_report":  "never",
	}
	if snap.Subscribed {
		checks["subscription"] = "active"
	}
	if !snap.LastReportTime.IsZero() {
		checks["last_report"] = time.Since(snap.LastReportTime).Round(time.Second).String() + " ago"
	}
	if snap.PendingRestart {
		checks["restart"] = "pending"
	}
	return checks
}

// getMemoryInfo returns memory usage information
func getMemoryInfo() *MemoryInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &MemoryInfo{
		Alloc:     m.Alloc,
		Sys:       m.Sys,
		HeapAlloc: m.HeapAlloc,
		HeapInuse: m.HeapInuse,
		NumGC:     m.NumGC,
	}
}
