package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/fleetsignal/internal/api/response"
	"github.com/kiranshivaraju/fleetsignal/internal/store"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

var validKinds = map[string]bool{
	models.SensorKindMeasurement:    true,
	models.SensorKindDerived:        true,
	models.SensorKindForecast:       true,
	models.SensorKindAnalysisOutput: true,
}

// SensorsHandler maintains the sensor catalog the candidate pool is drawn from.
type SensorsHandler struct {
	store store.Store
}

func NewSensorsHandler(s store.Store) *SensorsHandler {
	return &SensorsHandler{store: s}
}

type upsertSensorRequest struct {
	NodeID           string `json:"node_id"`
	Name             string `json:"name"`
	Unit             string `json:"unit"`
	Kind             string `json:"kind"`
	IntervalSeconds  int    `json:"interval_seconds"`
	AnalysisEligible *bool  `json:"analysis_eligible,omitempty"`
}

// Upsert handles PUT /api/v1/sensors/{sensorID}.
func (h *SensorsHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "sensorID"))
	var req upsertSensorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Kind == "" {
		req.Kind = models.SensorKindMeasurement
	}

	problems := map[string]string{}
	if id == "" {
		problems["sensor_id"] = "sensor_id is required"
	}
	if strings.TrimSpace(req.NodeID) == "" {
		problems["node_id"] = "node_id is required"
	}
	if !validKinds[req.Kind] {
		problems["kind"] = fmt.Sprintf("unknown kind %q", req.Kind)
	}
	if req.IntervalSeconds <= 0 {
		problems["interval_seconds"] = "interval_seconds must be > 0"
	}
	if len(problems) > 0 {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid sensor", problems)
		return
	}

	now := time.Now().UTC()
	sn := &models.Sensor{
		ID:               id,
		NodeID:           strings.TrimSpace(req.NodeID),
		Name:             req.Name,
		Unit:             req.Unit,
		Kind:             req.Kind,
		IntervalSeconds:  req.IntervalSeconds,
		AnalysisEligible: req.AnalysisEligible == nil || *req.AnalysisEligible,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.store.UpsertSensor(r.Context(), sn); err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := h.store.GetSensor(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, saved)
}

// Get handles GET /api/v1/sensors/{sensorID}.
func (h *SensorsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sn, err := h.store.GetSensor(r.Context(), chi.URLParam(r, "sensorID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, sn)
}

// List handles GET /api/v1/sensors?node_id=&page=&limit=.
func (h *SensorsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	limit := queryInt(q.Get("limit"), defaultPageLimit)
	if page < 1 || limit < 1 || limit > maxPageLimit {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
			fmt.Sprintf("page must be >= 1 and limit within 1..%d", maxPageLimit), nil)
		return
	}

	sensors, err := h.store.ListSensors(r.Context(), store.SensorFilter{NodeID: q.Get("node_id")})
	if err != nil {
		writeError(w, r, err)
		return
	}
	total := len(sensors)
	from := (page - 1) * limit
	if from > total {
		from = total
	}
	to := from + limit
	if to > total {
		to = total
	}
	response.Collection(w, sensors[from:to], response.Page(page, limit, total))
}

// Delete handles DELETE /api/v1/sensors/{sensorID}. Sensors are soft-deleted
// and drop out of every candidate pool.
func (h *SensorsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sn, err := h.store.GetSensor(r.Context(), chi.URLParam(r, "sensorID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	now := time.Now().UTC()
	sn.DeletedAt = &now
	sn.UpdatedAt = now
	if err := h.store.UpsertSensor(r.Context(), sn); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

func queryInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}
