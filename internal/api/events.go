package api

import (
	"net/http"
	"strings"
	"time"

	"qrbatch/internal/event"
)

type progressPayload struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	JobID     string    `json:"jobId,omitempty"`
	Zone      string    `json:"zone,omitempty"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

func buildProgressPayload(ev event.ProgressEvent) (any, bool) {
	return progressPayload{
		Type:      ev.Type(),
		Message:   ev.Message,
		JobID:     ev.JobID,
		Zone:      ev.Zone,
		Done:      ev.Done,
		Total:     ev.Total,
		Timestamp: ev.OccurredAt,
	}, true
}

// jobFilter narrows a stream to one job when ?job= is present.
func jobFilter(r *http.Request) func(event.ProgressEvent) bool {
	jobID := strings.TrimSpace(r.URL.Query().Get("job"))
	if jobID == "" {
		return nil
	}
	return func(ev event.ProgressEvent) bool {
		return ev.JobID == jobID
	}
}

func (h *Handler) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Bus == nil {
		writeSSEHTTPError(w, r, h.Logger, sseError{
			Status:  http.StatusServiceUnavailable,
			Message: "event stream unavailable",
		})
		return
	}
	output, cancel := h.Bus.SubscribeFiltered(jobFilter(r))
	defer cancel()
	serveSSEStream(w, r, sseStreamConfig[event.ProgressEvent]{
		Logger:       h.Logger,
		Output:       output,
		BuildPayload: buildProgressPayload,
	})
}

func (h *Handler) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	serveWSBusStream(w, r, wsBusStreamConfig[event.ProgressEvent]{
		Logger:         h.Logger,
		AllowedOrigins: h.AllowedOrigins,
		Bus:            h.Bus,
		Filter:         jobFilter(r),
		BuildPayload:   buildProgressPayload,
	})
}
