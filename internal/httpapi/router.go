// Package httpapi exposes the admin/metrics/health HTTP surface: health
// checks, Prometheus metrics exposition, and read-only introspection of
// engine state counts, grounded on the teacher's router package
// (chi middleware chain, health endpoints, metrics mount).
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// EngineStats is the read-only view the admin surface reports;
// satisfied by analysis.Engine.
type EngineStats interface {
	IPStateCount() int
	PathStateCount() int
	SessionStateCount() int
}

// ModelInfo is the read-only view of the active Tier 3 model;
// cmd/sentryd adapts mlmodel.ModelManager to it.
type ModelInfo interface {
	Current() interface{ Name() string }
}

// NewRouter builds the admin HTTP handler. registry may be nil, in
// which case /metrics is not mounted (no-metrics deployments).
func NewRouter(log zerolog.Logger, registry *prometheus.Registry, stats EngineStats, model ModelInfo) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", writeJSON(http.StatusOK, map[string]string{"status": "ok", "service": "sentryd"}))
	r.Get("/ready", writeJSON(http.StatusOK, map[string]string{"status": "ready", "service": "sentryd"}))

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Get("/admin/state", func(w http.ResponseWriter, req *http.Request) {
		body := map[string]int{
			"ip_states":      stats.IPStateCount(),
			"path_states":    stats.PathStateCount(),
			"session_states": stats.SessionStateCount(),
		}
		writeJSONBody(w, http.StatusOK, body)
	})

	r.Get("/admin/model", func(w http.ResponseWriter, req *http.Request) {
		name := "none"
		if model != nil {
			name = model.Current().Name()
		}
		writeJSONBody(w, http.StatusOK, map[string]string{"active_model": name})
	})

	return r
}

func writeJSON(status int, body map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSONBody(w, status, body)
	}
}

func writeJSONBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("admin request")
		})
	}
}
