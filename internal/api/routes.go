package api

import (
	"net/http"
)

// RegisterRoutes mounts every endpoint on mux. Routes without the /api
// prefix are kept for older front ends.
func RegisterRoutes(mux *http.ServeMux, h *Handler) {
	wrap := func(handler http.Handler) http.Handler {
		return corsMiddleware(h.AllowedOrigins, loggingMiddleware(h.Logger, handler))
	}
	handle := func(handler apiHandler, patterns ...string) {
		wrapped := wrap(restHandler(handler))
		for _, pattern := range patterns {
			mux.Handle(pattern, wrapped)
		}
	}

	handle(h.handleZones, "/api/zones", "/zones")
	handle(h.handleHistory, "/api/history", "/history")
	handle(h.handleCheckRange, "/api/check-range", "/api/check-interval", "/check-range")
	handle(h.handleGenerate, "/api/generate", "/generate")
	handle(h.handleJobs, "/api/jobs")
	handle(h.handleJob, "/api/jobs/{id}")
	handle(h.handleLogs, "/api/logs")
	handle(h.handleHealth, "/healthz")

	events := wrap(http.HandlerFunc(h.handleEventsSSE))
	mux.Handle("/api/events", events)
	mux.Handle("/events", events)
	mux.Handle("/ws/events", wrap(http.HandlerFunc(h.handleEventsWS)))

	if h.OutputDir != "" {
		mux.Handle(outputRoute, wrap(outputHandler(h.OutputDir)))
	}
	mux.Handle("/metrics", h.Metrics.Handler())
}
