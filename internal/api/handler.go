// Package api provides the HTTP surface of the meeting preparation service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"meetingprep/internal/apperrors"
	"meetingprep/internal/health"
	"meetingprep/internal/pipeline"
	"meetingprep/internal/workflow"
)

// maxRequestBodySize limits request bodies to 1MB.
const maxRequestBodySize = 1 << 20

// Handler holds the HTTP handlers for the preparation API.
type Handler struct {
	svc    *workflow.Service
	health *health.Checker
}

// NewHandler creates an API handler over the workflow service.
func NewHandler(svc *workflow.Service, healthChecker *health.Checker) *Handler {
	return &Handler{svc: svc, health: healthChecker}
}

type callbackRequest struct {
	URL        string   `json:"url"`
	SigningKey string   `json:"signing_key,omitempty"`
	Events     []string `json:"events,omitempty"`
}

func (c *callbackRequest) toPipeline() *pipeline.Callback {
	if c == nil || c.URL == "" {
		return nil
	}
	return &pipeline.Callback{URL: c.URL, SigningKey: c.SigningKey, Events: c.Events}
}

type prepareRequest struct {
	IncludeSlack  *bool            `json:"include_slack,omitempty"`
	IncludeAgenda *bool            `json:"include_agenda,omitempty"`
	Callback      *callbackRequest `json:"callback,omitempty"`
}

type prepareCustomRequest struct {
	Steps    []string         `json:"steps"`
	Seed     map[string]any   `json:"seed,omitempty"`
	Callback *callbackRequest `json:"callback,omitempty"`
}

type prepareAgendaRequest struct {
	MeetingContext   string            `json:"meeting_context"`
	FocusMode        string            `json:"focus_mode,omitempty"`
	ParticipantRoles map[string]string `json:"participant_roles,omitempty"`
	Callback         *callbackRequest  `json:"callback,omitempty"`
}

type startResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// PrepareMeeting handles POST /v1/meetings/prepare.
// Both gate flags default to true; the full workflow runs everything unless
// the caller opts out.
func (h *Handler) PrepareMeeting(w http.ResponseWriter, r *http.Request) {
	var req prepareRequest
	if !h.decode(w, r, &req) {
		return
	}

	opts := workflow.FullOptions{
		IncludeSlack:  req.IncludeSlack == nil || *req.IncludeSlack,
		IncludeAgenda: req.IncludeAgenda == nil || *req.IncludeAgenda,
		Callback:      req.Callback.toPipeline(),
	}

	id, err := h.svc.StartFull(opts)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, startResponse{JobID: id, Status: "started"})
}

// PrepareCustom handles POST /v1/meetings/prepare-custom.
func (h *Handler) PrepareCustom(w http.ResponseWriter, r *http.Request) {
	var req prepareCustomRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.svc.StartCustom(workflow.CustomOptions{
		Steps:    req.Steps,
		Seed:     req.Seed,
		Callback: req.Callback.toPipeline(),
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, startResponse{JobID: id, Status: "started"})
}

// PrepareAgenda handles POST /v1/agenda/prepare.
func (h *Handler) PrepareAgenda(w http.ResponseWriter, r *http.Request) {
	var req prepareAgendaRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.svc.StartAgenda(workflow.AgendaOptions{
		MeetingContext:   req.MeetingContext,
		FocusMode:        req.FocusMode,
		ParticipantRoles: req.ParticipantRoles,
		Callback:         req.Callback.toPipeline(),
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, startResponse{JobID: id, Status: "started"})
}

// ListJobs handles GET /v1/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.svc.ListJobs()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob handles GET /v1/jobs/{jobId}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	rec, err := h.svc.GetJob(jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// DeleteJob handles DELETE /v1/jobs/{jobId}. Deleting an in-flight job
// cancels its run.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if err := h.svc.DeleteJob(jobID); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type stepInfo struct {
	Name     string   `json:"name"`
	Needs    []string `json:"needs,omitempty"`
	Produces string   `json:"produces"`
	Optional bool     `json:"optional,omitempty"`
}

// ListSteps handles GET /v1/steps - the registered step catalog.
func (h *Handler) ListSteps(w http.ResponseWriter, r *http.Request) {
	descriptors := h.svc.Steps()
	steps := make([]stepInfo, 0, len(descriptors))
	for _, d := range descriptors {
		steps = append(steps, stepInfo(d))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

// Livez handles GET /livez - liveness probe, no dependency checks.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz - readiness probe. 503 when the step provider
// is unreachable or the service is draining.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, response)
}

// decode reads a JSON request body into dst, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError maps service errors onto HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
