package api

import (
	"net/http"
	"strings"

	"qrbatch/internal/job"
)

type generateResponse struct {
	Success     bool   `json:"success"`
	JobID       string `json:"jobId"`
	DownloadURL string `json:"downloadUrl"`
	Digest      string `json:"digest,omitempty"`
	Name        string `json:"name,omitempty"`
}

func (h *Handler) decodeJobRequest(w http.ResponseWriter, r *http.Request) (job.Request, *apiError) {
	var req rangeRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		return job.Request{}, apiErr
	}
	bounds, apiErr := req.bounds()
	if apiErr != nil {
		return job.Request{}, apiErr
	}
	return job.Request{
		Zone:     strings.TrimSpace(req.zone()),
		ZoneName: strings.TrimSpace(req.zoneName()),
		Start:    bounds.Start,
		End:      bounds.End,
		Mode:     job.Mode(req.Mode),
	}, nil
}

// handleGenerate runs a job while the client waits and answers with the
// download location once the artifact exists.
func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	if h.Jobs == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "generation unavailable"}
	}
	req, apiErr := h.decodeJobRequest(w, r)
	if apiErr != nil {
		return apiErr
	}
	final, err := h.Jobs.Submit(r.Context(), req)
	if err != nil {
		apiErr := h.errorFor(err)
		if final.ID != "" {
			apiErr.Details = mergeJobID(apiErr.Details, final.ID)
		}
		return apiErr
	}
	response := generateResponse{Success: true, JobID: final.ID}
	if final.Output != nil {
		response.DownloadURL = final.Output.URL
		response.Digest = final.Output.Digest
		response.Name = final.Output.Name
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

// mergeJobID attaches the failed job ID unless the error already
// carries structured details.
func mergeJobID(details any, jobID string) any {
	switch typed := details.(type) {
	case nil:
		return map[string]string{"jobId": jobID}
	case conflictDetails:
		return struct {
			conflictDetails
			JobID string `json:"jobId"`
		}{typed, jobID}
	default:
		return details
	}
}

func (h *Handler) handleJobs(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Jobs == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "generation unavailable"}
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Jobs.Registry().List())
		return nil
	case http.MethodPost:
		req, apiErr := h.decodeJobRequest(w, r)
		if apiErr != nil {
			return apiErr
		}
		started, err := h.Jobs.Start(r.Context(), req)
		if err != nil {
			return h.errorFor(err)
		}
		w.Header().Set("Location", "/api/jobs/"+started.ID)
		writeJSON(w, http.StatusAccepted, started)
		return nil
	default:
		return methodNotAllowed(w, "GET, POST")
	}
}

func (h *Handler) handleJob(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.Jobs == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "generation unavailable"}
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing job id"}
	}
	snapshot, err := h.Jobs.Registry().Get(id)
	if err != nil {
		return h.errorFor(err)
	}
	writeJSON(w, http.StatusOK, snapshot)
	return nil
}
