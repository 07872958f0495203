package api

import (
	"net/http"
	"strconv"
	"strings"

	"qrbatch/internal/logging"
	"qrbatch/internal/version"
)

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	values := r.URL.Query()
	var minLevel logging.Level
	if raw := strings.TrimSpace(values.Get("level")); raw != "" {
		parsed, ok := logging.ParseLevel(raw)
		if !ok {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid log level"}
		}
		minLevel = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
		}
		limit = parsed
	}

	entries := []logging.LogEntry{}
	if buffer := h.Logger.Buffer(); buffer != nil {
		for _, entry := range buffer.List() {
			if minLevel != "" && !logging.LevelAtLeast(entry.Level, minLevel) {
				continue
			}
			entries = append(entries, entry)
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, entries)
	return nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return methodNotAllowed(w, "GET, HEAD")
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.Get().Version})
	return nil
}
