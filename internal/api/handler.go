package api

import (
	"context"
	"errors"
	"net/http"

	"qrbatch/internal/allocator"
	"qrbatch/internal/event"
	"qrbatch/internal/job"
	"qrbatch/internal/logging"
	"qrbatch/internal/metrics"
	"qrbatch/internal/packager"
	"qrbatch/internal/render"
	"qrbatch/internal/zone"
)

// ZoneLister is the read side of the zone catalog.
type ZoneLister interface {
	List() []zone.Zone
}

// Handler holds the collaborators every HTTP endpoint needs.
type Handler struct {
	Allocator      *allocator.Allocator
	Jobs           *job.Orchestrator
	Zones          ZoneLister
	Bus            *event.Bus[event.ProgressEvent]
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	OutputDir      string
	AllowedOrigins []string
}

type conflictDetails struct {
	Existing rangePayload `json:"existing"`
}

type rangePayload struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// errorFor maps domain errors onto HTTP statuses.
func (h *Handler) errorFor(err error) *apiError {
	var validation *allocator.ValidationError
	var conflict *allocator.ConflictError
	var renderErr *render.RenderError
	var packErr *packager.Error

	switch {
	case errors.As(err, &validation):
		return &apiError{Status: http.StatusBadRequest, Message: validation.Error()}
	case errors.Is(err, allocator.ErrUnknownZone):
		return &apiError{Status: http.StatusBadRequest, Message: err.Error()}
	case errors.As(err, &conflict):
		return &apiError{
			Status:  http.StatusConflict,
			Message: conflict.Error(),
			Details: conflictDetails{Existing: rangePayload{
				Start: conflict.Existing.Start,
				End:   conflict.Existing.End,
			}},
		}
	case errors.As(err, &renderErr):
		if renderErr.Timeout {
			return &apiError{Status: http.StatusGatewayTimeout, Message: renderErr.Error()}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: renderErr.Error()}
	case errors.As(err, &packErr):
		return &apiError{Status: http.StatusInternalServerError, Message: packErr.Error()}
	case errors.Is(err, job.ErrJobNotFound):
		return &apiError{Status: http.StatusNotFound, Message: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &apiError{Status: http.StatusServiceUnavailable, Message: "request abandoned"}
	default:
		h.Logger.Error("request failed", map[string]string{"error": err.Error()})
		return &apiError{Status: http.StatusInternalServerError, Message: "internal error"}
	}
}
