package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinylog/pkg/config"
	"github.com/nicktill/tinylog/pkg/httpx"
	sdkhttpx "github.com/nicktill/tinylog/pkg/sdk/httpx"
	"github.com/nicktill/tinylog/pkg/server/monitor"
	"github.com/nicktill/tinylog/pkg/worker"
)

var startTime = time.Now()

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Controller runs worker cycles on demand.
type Controller interface {
	Flush(ctx context.Context) (worker.FlushResult, bool)
	Purge(ctx context.Context) (worker.PurgeResult, bool)
	Stats() worker.Stats
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string              `json:"status"`
	Version string              `json:"version"`
	Uptime  string              `json:"uptime"`
	Queued  int                 `json:"queued"`
	Flush   monitor.CycleStatus `json:"flush"`
	Purge   monitor.CycleStatus `json:"purge"`
}

// FlushSummary is the response of a manual flush.
type FlushSummary struct {
	Drained   int    `json:"drained"`
	Persisted int    `json:"persisted"`
	Failed    int    `json:"failed"`
	Cancelled int    `json:"cancelled"`
	Remaining int    `json:"remaining"`
	Elapsed   string `json:"elapsed"`
}

// PurgeSummary is the response of a manual purge.
type PurgeSummary struct {
	Status  string `json:"status"`
	Cutoff  string `json:"cutoff"`
	Removed int64  `json:"removed"`
	Elapsed string `json:"elapsed"`
	Error   string `json:"error,omitempty"`
}

// handleHealth returns service health status. Either monitor being
// unhealthy degrades the service.
func handleHealth(ctrl Controller, flush, purge *monitor.CycleMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if !flush.IsHealthy() || !purge.IsHealthy() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:  overallStatus,
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Queued:  ctrl.Stats().Queued,
			Flush:   flush.Status(),
			Purge:   purge.Status(),
		}

		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(sm *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := sm.Check()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, status)
	}
}

// handleFlush runs one flush cycle now. 409 means a cycle was already running.
func handleFlush(ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.AdminFlushTimeout)
		defer cancel()

		res, ok := ctrl.Flush(ctx)
		if !ok {
			httpx.RespondErrorString(w, http.StatusConflict, "flush cycle already running or worker stopped")
			return
		}

		httpx.RespondJSON(w, http.StatusOK, FlushSummary{
			Drained:   res.Drained,
			Persisted: res.Persisted,
			Failed:    res.Failed,
			Cancelled: res.Cancelled,
			Remaining: res.Remaining,
			Elapsed:   res.Elapsed.String(),
		})
	}
}

// handlePurge runs one purge cycle now. 409 means purging is disabled, a purge
// is already running, or the worker is stopped.
func handlePurge(ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.AdminPurgeTimeout)
		defer cancel()

		res, ok := ctrl.Purge(ctx)
		if !ok {
			httpx.RespondErrorString(w, http.StatusConflict, "purge disabled, already running or worker stopped")
			return
		}

		summary := PurgeSummary{
			Status:  res.Status.String(),
			Cutoff:  res.Cutoff.Format(time.RFC3339),
			Removed: res.Removed,
			Elapsed: res.Elapsed.String(),
		}
		statusCode := http.StatusOK
		if res.Err != nil {
			summary.Error = res.Err.Error()
			statusCode = http.StatusInternalServerError
		}
		httpx.RespondJSON(w, statusCode, summary)
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, c *Components, port string) {
	// CORS middleware for API access
	router.Use(corsMiddleware(port))

	api := router.PathPrefix("/v1").Subrouter()

	// Log ingestion and querying
	api.HandleFunc("/logs", c.Ingest.HandleIngest).Methods("POST")
	api.HandleFunc("/logs", c.Ingest.HandleQuery).Methods("GET")

	// Stats and health
	api.HandleFunc("/stats", c.Ingest.HandleStats).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(c.StorageMonitor)).Methods("GET")
	api.HandleFunc("/health", handleHealth(c.Worker, c.FlushMonitor, c.PurgeMonitor)).Methods("GET")

	// Backup
	api.HandleFunc("/export", c.Export.HandleExport).Methods("GET")

	// WebSocket live tail
	api.HandleFunc("/ws", c.Hub.HandleWebSocket).Methods("GET")

	// Admin triggers are logged through the server's own client
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(sdkhttpx.Middleware(c.Client))
	admin.HandleFunc("/flush", handleFlush(c.Worker)).Methods("POST")
	admin.HandleFunc("/purge", handlePurge(c.Worker)).Methods("POST")
	admin.HandleFunc("/import", c.Export.HandleImport).Methods("POST")

	// Prometheus-compatible metrics endpoint (standard /metrics path)
	router.HandleFunc("/metrics", c.Ingest.HandlePrometheusMetrics).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+sdkhttpx.RequestIDHeader)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
