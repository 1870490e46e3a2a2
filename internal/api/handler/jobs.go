package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/internal/api/response"
	"github.com/kiranshivaraju/fleetsignal/internal/jobs"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// JobEngine is the part of the job engine the HTTP layer drives.
type JobEngine interface {
	Types() []string
	Submit(ctx context.Context, p models.Principal, jobType string, raw json.RawMessage, dedupe bool) (*models.Job, bool, error)
	Get(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Job, error)
	Status(ctx context.Context, p models.Principal, id uuid.UUID) (string, error)
	Cancel(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Job, error)
	Preview(ctx context.Context, p models.Principal, jobType string, raw json.RawMessage) (*jobs.PreviewResult, error)
	PreviewSeries(ctx context.Context, p models.Principal, req jobs.SeriesPreviewRequest) (*analysis.SeriesPreview, error)
}

var _ JobEngine = (*jobs.Engine)(nil)

// JobsHandler serves job submission, polling, cancellation and previews.
type JobsHandler struct {
	engine JobEngine
}

func NewJobsHandler(e JobEngine) *JobsHandler {
	return &JobsHandler{engine: e}
}

type submitRequest struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
	// Dedupe defaults to true: an identical in-flight job is returned
	// instead of starting another.
	Dedupe *bool `json:"dedupe,omitempty"`
}

type submitResponse struct {
	*models.Job
	Deduplicated bool `json:"deduplicated"`
}

// Submit handles POST /api/v1/jobs. A new job answers 202; an identical job
// already in flight answers 200 with that job.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "type is required",
			map[string][]string{"supported_types": h.engine.Types()})
		return
	}
	dedupe := req.Dedupe == nil || *req.Dedupe

	job, created, err := h.engine.Submit(r.Context(), p, req.Type, req.Params, dedupe)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if created {
		response.Accepted(w, submitResponse{Job: job})
		return
	}
	response.JSON(w, submitResponse{Job: job, Deduplicated: true})
}

// Get handles GET /api/v1/jobs/{jobID}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.withJobID(w, r, func(p models.Principal, id uuid.UUID) {
		job, err := h.engine.Get(r.Context(), p, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	})
}

// Status handles GET /api/v1/jobs/{jobID}/status, a cheap poll that avoids
// loading the result.
func (h *JobsHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.withJobID(w, r, func(p models.Principal, id uuid.UUID) {
		status, err := h.engine.Status(r.Context(), p, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"id": id, "status": status})
	})
}

// Cancel handles POST /api/v1/jobs/{jobID}/cancel.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withJobID(w, r, func(p models.Principal, id uuid.UUID) {
		job, err := h.engine.Cancel(r.Context(), p, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	})
}

// Types handles GET /api/v1/jobs/types.
func (h *JobsHandler) Types(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, h.engine.Types())
}

type previewRequest struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

// Preview handles POST /api/v1/preview.
func (h *JobsHandler) Preview(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req previewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "type is required", nil)
		return
	}
	res, err := h.engine.Preview(r.Context(), p, req.Type, req.Params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, res)
}

// PreviewSeries handles POST /api/v1/preview/series.
func (h *JobsHandler) PreviewSeries(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req jobs.SeriesPreviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.engine.PreviewSeries(r.Context(), p, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, res)
}

func (h *JobsHandler) withJobID(w http.ResponseWriter, r *http.Request, fn func(models.Principal, uuid.UUID)) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a UUID", nil)
		return
	}
	fn(p, id)
}
