package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	mw "github.com/kiranshivaraju/fleetsignal/internal/api/middleware"
	"github.com/kiranshivaraju/fleetsignal/internal/api/response"
	"github.com/kiranshivaraju/fleetsignal/internal/jobs"
	"github.com/kiranshivaraju/fleetsignal/internal/store"
	"github.com/kiranshivaraju/fleetsignal/internal/tsreader"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

const maxBodyBytes = 1 << 20

// writeError maps engine, store and reader errors onto the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *analysis.ValidationError
	var rerr *analysis.ResourceExceededError
	var cerr *analysis.CandidateReadError

	switch {
	case errors.As(err, &rerr):
		response.Error(w, http.StatusUnprocessableEntity, "RESOURCE_EXCEEDED", rerr.Error(), map[string]int64{
			"buckets":                    rerr.Buckets,
			"max_buckets":                rerr.MaxBuckets,
			"suggested_interval_seconds": rerr.SuggestedInterval,
		})
	case errors.As(err, &verr):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error(), nil)
	case errors.Is(err, jobs.ErrForbidden):
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions", nil)
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, jobs.ErrSensorNotFound):
		response.Error(w, http.StatusNotFound, "SENSOR_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, analysis.ErrNoFocusData):
		response.Error(w, http.StatusUnprocessableEntity, "NO_FOCUS_DATA", err.Error(), nil)
	case errors.Is(err, jobs.ErrShuttingDown):
		w.Header().Set("Retry-After", "30")
		response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down", nil)
	case errors.Is(err, analysis.ErrBudgetExceeded):
		response.Error(w, http.StatusGatewayTimeout, "COMPUTE_BUDGET_EXCEEDED", err.Error(), nil)
	case tsreader.IsTransient(err):
		response.Error(w, http.StatusServiceUnavailable, "READER_UNAVAILABLE",
			"The time-series reader is not available", nil)
	case errors.As(err, &cerr):
		response.Error(w, http.StatusBadGateway, "READ_FAILED", cerr.Error(), nil)
	case errors.Is(err, analysis.ErrCancelled):
		response.Error(w, http.StatusRequestTimeout, "REQUEST_CANCELLED", "Request was cancelled", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

// principal returns the authenticated caller, writing 401 when there is none.
func principal(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	p, ok := mw.GetPrincipal(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing principal", nil)
	}
	return p, ok
}

// decodeBody reads a JSON body into dst, writing 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("Invalid JSON body: %v", err), nil)
		return false
	}
	return true
}
