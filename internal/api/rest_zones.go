package api

import (
	"net/http"
	"time"

	"qrbatch/internal/interval"
	"qrbatch/internal/zone"
)

func (h *Handler) handleZones(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	zones := []zone.Zone{}
	if h.Zones != nil {
		zones = append(zones, h.Zones.List()...)
	}
	writeJSON(w, http.StatusOK, zones)
	return nil
}

type historyEntry struct {
	ZoneCode    string    `json:"zoneCode"`
	ZoneName    string    `json:"zoneName"`
	CommuneName string    `json:"communeName"`
	Start       int       `json:"start"`
	End         int       `json:"end"`
	Count       int       `json:"count"`
	Timestamp   time.Time `json:"timestamp"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	entries, err := h.Allocator.History(r.Context())
	if err != nil {
		return h.errorFor(err)
	}
	response := make([]historyEntry, 0, len(entries))
	for _, entry := range entries {
		response = append(response, historyEntry{
			ZoneCode:    entry.ZoneCode,
			ZoneName:    entry.ZoneName,
			CommuneName: entry.ZoneName,
			Start:       entry.Range.Start,
			End:         entry.Range.End,
			Count:       entry.Range.Count(),
			Timestamp:   entry.ReservedAt.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

// rangeRequest is shared by check-range and generate. communeCode and
// communeName are older field names still sent by existing clients.
type rangeRequest struct {
	Zone        string  `json:"zone"`
	ZoneName    string  `json:"zoneName"`
	CommuneCode string  `json:"communeCode"`
	CommuneName string  `json:"communeName"`
	Start       flexInt `json:"start"`
	End         flexInt `json:"end"`
	Mode        string  `json:"mode"`
}

func (req rangeRequest) zone() string {
	if req.Zone != "" {
		return req.Zone
	}
	return req.CommuneCode
}

func (req rangeRequest) zoneName() string {
	if req.ZoneName != "" {
		return req.ZoneName
	}
	return req.CommuneName
}

func (req rangeRequest) bounds() (interval.Range, *apiError) {
	if !req.Start.Set || !req.End.Set {
		return interval.Range{}, &apiError{Status: http.StatusBadRequest, Message: "start and end are required"}
	}
	return interval.Range{Start: req.Start.Value, End: req.End.Value}, nil
}

// availabilityResponse mirrors allocator.Availability with wire names.
type availabilityResponse struct {
	Available bool   `json:"available"`
	Message   string `json:"message,omitempty"`
}

func (h *Handler) handleCheckRange(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	var req rangeRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		return apiErr
	}
	bounds, apiErr := req.bounds()
	if apiErr != nil {
		return apiErr
	}
	availability, err := h.Allocator.Check(r.Context(), req.zone(), bounds)
	if err != nil {
		return h.errorFor(err)
	}
	writeJSON(w, http.StatusOK, availabilityResponse(availability))
	return nil
}
