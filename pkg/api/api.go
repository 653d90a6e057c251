// Package api exposes the agent's query surface over HTTP: alert history,
// host statistics, engine state, and live configuration.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sentinelwatch/sentinelwatch/pkg/alert"
	"github.com/sentinelwatch/sentinelwatch/pkg/config"
	"github.com/sentinelwatch/sentinelwatch/pkg/engine"
	"github.com/sentinelwatch/sentinelwatch/pkg/pipeline"
)

const redactedPlaceholder = "***"

// Server wires the HTTP handlers to the pipeline, engine, and config
// manager.
type Server struct {
	pipeline *pipeline.Pipeline
	engine   *engine.Engine
	manager  *config.Manager
	logger   zerolog.Logger
	httpSrv  *http.Server
}

// New builds a server listening on the given port.
func New(port string, pipe *pipeline.Pipeline, eng *engine.Engine, mgr *config.Manager, logger zerolog.Logger) *Server {
	s := &Server{
		pipeline: pipe,
		engine:   eng,
		manager:  mgr,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/engine", s.handleEngine).Methods(http.MethodGet)
	v1.HandleFunc("/system", s.handleSystem).Methods(http.MethodGet)
	v1.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	v1.HandleFunc("/config", s.handlePutConfig).Methods(http.MethodPut)

	s.httpSrv = &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the listener in a goroutine and returns immediately.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("API server starting")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server failed")
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := pipeline.HistoryFilter{
		Severity: alert.Severity(q.Get("severity")),
		Type:     q.Get("type"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	alerts := s.pipeline.History(filter)
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
		"total":  s.pipeline.HistoryLen(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}

	cutoff := time.Now().Add(-window).Unix()
	stats := s.pipeline.StatsSince(cutoff)
	if stats == nil {
		stats = []pipeline.SystemStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats": stats,
		"count": len(stats),
	})
}

func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

// handleSystem reports a static host snapshot: platform, CPU count, total
// memory, and boot time.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"cpu_count": runtime.NumCPU(),
		"go_os":     runtime.GOOS,
		"go_arch":   runtime.GOARCH,
	}
	if hi, err := host.Info(); err == nil {
		info["hostname"] = hi.Hostname
		info["platform"] = hi.Platform
		info["platform_version"] = hi.PlatformVersion
		info["boot_time"] = hi.BootTime
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info["total_memory_bytes"] = vm.Total
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.manager.Snapshot()
	redact(cfg)
	writeJSON(w, http.StatusOK, map[string]any{
		"config":  cfg,
		"version": s.manager.Version(),
	})
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	// Decode over the current snapshot so a partial body only overrides the
	// keys it names. The version guards the apply: a concurrent update in
	// the gap means this decode was based on stale fields.
	cfg, version := s.manager.SnapshotVersioned()
	currentKey := cfg.Intel.APIKey
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed config body: "+err.Error())
		return
	}
	// A client echoing back a redacted GET body must not clobber the key.
	if cfg.Intel.APIKey == redactedPlaceholder {
		cfg.Intel.APIKey = currentKey
	}
	if err := s.manager.ApplyIf(version, cfg); err != nil {
		if errors.Is(err, config.ErrVersionConflict) {
			writeError(w, http.StatusConflict, "config changed concurrently, retry with the current version")
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "config rejected: "+err.Error())
		return
	}
	s.logger.Info().Uint64("version", s.manager.Version()).Msg("Configuration updated")

	applied := s.manager.Snapshot()
	redact(applied)
	writeJSON(w, http.StatusOK, map[string]any{
		"config":  applied,
		"version": s.manager.Version(),
	})
}

// redact blanks provider credentials before a config leaves the process.
func redact(cfg *config.Config) {
	if cfg.Intel.APIKey != "" {
		cfg.Intel.APIKey = redactedPlaceholder
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
