package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/fleetsignal/internal/api/response"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// NewHealthHandler reports each named dependency as ok or degraded.
func NewHealthHandler(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		services := make(map[string]string, len(checks))
		degraded := false
		for name, check := range checks {
			services[name] = "ok"
			if err := check(ctx); err != nil {
				services[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", services)
			return
		}
		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": services,
		})
	}
}
