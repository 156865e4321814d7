package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - single-ticker refresh
	// /api/refresh/{ticker}            POST - start refresh
	// /api/refresh/{ticker}/status     GET  - poll job state
	// /api/refresh/{ticker}/result     GET  - fetch refreshed document
	mux.HandleFunc("/api/refresh/", s.app.RefreshHandler.HandleTickerRoutes)

	// API routes - batch refresh
	mux.HandleFunc("/api/refresh-all", s.app.RefreshHandler.StartBatchHandler)
	mux.HandleFunc("/api/refresh-all/status", s.app.RefreshHandler.BatchStatusHandler)
	mux.HandleFunc("/api/refresh-all/results", s.app.RefreshHandler.BatchResultsHandler)

	// API routes - Scheduler
	mux.HandleFunc("/api/scheduler/trigger-refresh", s.app.SchedulerHandler.TriggerRefreshHandler)

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Everything else under /api is a JSON 404; anything outside /api
	// has no UI in this service.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			s.app.APIHandler.NotFoundHandler(w, r)
			return
		}
		http.NotFound(w, r)
	})

	return mux
}
