package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/fleetsignal/internal/api/handler"
	mw "github.com/kiranshivaraju/fleetsignal/internal/api/middleware"
	"github.com/kiranshivaraju/fleetsignal/internal/api/response"
	"github.com/kiranshivaraju/fleetsignal/internal/cache"
	"github.com/kiranshivaraju/fleetsignal/internal/store"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	SubmitJob     http.HandlerFunc
	GetJob        http.HandlerFunc
	JobStatus     http.HandlerFunc
	CancelJob     http.HandlerFunc
	JobTypes      http.HandlerFunc
	Preview       http.HandlerFunc
	PreviewSeries http.HandlerFunc

	ListSensors  http.HandlerFunc
	GetSensor    http.HandlerFunc
	UpsertSensor http.HandlerFunc
	DeleteSensor http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewDependencies wires the standard handlers over the store, cache and engine.
func NewDependencies(st store.Store, c cache.Cache, engine handler.JobEngine, health http.HandlerFunc, requestsPerMin int) Dependencies {
	jobs := handler.NewJobsHandler(engine)
	sensors := handler.NewSensorsHandler(st)
	keys := handler.NewKeysHandler(st)

	return Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(c, requestsPerMin),

		HealthHandler: health,

		SubmitJob:     jobs.Submit,
		GetJob:        jobs.Get,
		JobStatus:     jobs.Status,
		CancelJob:     jobs.Cancel,
		JobTypes:      jobs.Types,
		Preview:       jobs.Preview,
		PreviewSeries: jobs.PreviewSeries,

		ListSensors:  sensors.List,
		GetSensor:    sensors.Get,
		UpsertSensor: sensors.Upsert,
		DeleteSensor: sensors.Delete,

		CreateKeyHandler: keys.Create,
		ListKeysHandler:  keys.List,
		RevokeKeyHandler: keys.Revoke,
	}
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeRun))

			r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitJob))
			r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJob))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeView))

			r.Get("/api/v1/jobs/types", orNotImplemented(deps.JobTypes))
			r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))
			r.Get("/api/v1/jobs/{jobID}/status", orNotImplemented(deps.JobStatus))

			r.Post("/api/v1/preview", orNotImplemented(deps.Preview))
			r.Post("/api/v1/preview/series", orNotImplemented(deps.PreviewSeries))

			r.Get("/api/v1/sensors", orNotImplemented(deps.ListSensors))
			r.Get("/api/v1/sensors/{sensorID}", orNotImplemented(deps.GetSensor))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Put("/api/v1/sensors/{sensorID}", orNotImplemented(deps.UpsertSensor))
			r.Delete("/api/v1/sensors/{sensorID}", orNotImplemented(deps.DeleteSensor))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
