package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/internal/api"
	"github.com/kiranshivaraju/fleetsignal/internal/api/handler"
	"github.com/kiranshivaraju/fleetsignal/internal/cache"
	"github.com/kiranshivaraju/fleetsignal/internal/candidates"
	"github.com/kiranshivaraju/fleetsignal/internal/jobs"
	"github.com/kiranshivaraju/fleetsignal/internal/store"
	"github.com/kiranshivaraju/fleetsignal/internal/tsreader"
	"github.com/kiranshivaraju/fleetsignal/internal/vectorindex"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminKey    = "fs_admin_0000000000000000000000000000000"
	operatorKey = "fs_oper_00000000000000000000000000000000"
	viewerKey   = "fs_view_00000000000000000000000000000000"
)

var day0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	store  *store.MemoryStore
	reader *tsreader.MemoryReader
	router http.Handler
}

func newTestEnv(t *testing.T, requestsPerMin int) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	reader := tsreader.NewMemoryReader()
	c := cache.NewMemoryCache()
	policy := analysis.DefaultPolicy()

	engine := jobs.NewEngine(jobs.Deps{
		Store:      st,
		Reader:     reader,
		Candidates: candidates.NewGenerator(st, reader, vectorindex.NewMemoryIndex(), policy),
		Policy:     policy,
	}, c, jobs.Config{Workers: 2, StatusTTL: time.Minute, PreviewTimeout: 5 * time.Second, PreviewCacheTTL: time.Minute})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})

	for raw, scopes := range map[string][]string{
		adminKey:    {models.ScopeAdmin},
		operatorKey: {models.ScopeRun, models.ScopeView},
		viewerKey:   {models.ScopeView},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
		require.NoError(t, err)
		require.NoError(t, st.CreateAPIKey(context.Background(), &models.APIKey{
			ID: uuid.New(), Name: raw[3:7], KeyHash: string(hash), KeyPrefix: raw[:8], Scopes: scopes,
		}))
	}

	health := handler.NewHealthHandler(map[string]handler.Check{
		"database": st.Ping,
		"cache":    c.Ping,
	})
	return &testEnv{
		store:  st,
		reader: reader,
		router: api.NewRouter(api.NewDependencies(st, c, engine, health, requestsPerMin)),
	}
}

func (e *testEnv) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "no data object in %s", w.Body.String())
	return d
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body["error"].(map[string]any)["code"].(string)
}

func noopJob(steps, delayMs int) map[string]any {
	return map[string]any{
		"type":   models.JobTypeNoop,
		"params": map[string]any{"steps": steps, "step_delay_ms": delayMs},
	}
}

// --- routing and auth ---

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	env := newTestEnv(t, 60)

	w := env.do(t, "GET", "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", data(t, w)["status"])
}

func TestHealth_Degraded(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Check{
		"database": func(context.Context) error { return nil },
		"reader":   func(context.Context) error { return errors.New("down") },
	})
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest("GET", "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "DEGRADED", errCode(t, w))
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	env := newTestEnv(t, 60)

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/jobs"},
		{"GET", "/api/v1/jobs/" + uuid.NewString()},
		{"GET", "/api/v1/jobs/" + uuid.NewString() + "/status"},
		{"POST", "/api/v1/jobs/" + uuid.NewString() + "/cancel"},
		{"POST", "/api/v1/preview"},
		{"POST", "/api/v1/preview/series"},
		{"GET", "/api/v1/sensors"},
		{"PUT", "/api/v1/sensors/n1.temp"},
		{"POST", "/api/v1/admin/keys"},
		{"GET", "/api/v1/admin/keys"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			w := env.do(t, ep.method, ep.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "INVALID_TOKEN", errCode(t, w))
		})
	}
}

func TestRouter_ScopeEnforcement(t *testing.T) {
	env := newTestEnv(t, 60)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		body   any
		want   int
	}{
		{"viewer cannot submit", "POST", "/api/v1/jobs", viewerKey, noopJob(1, 0), http.StatusForbidden},
		{"viewer cannot cancel", "POST", "/api/v1/jobs/" + uuid.NewString() + "/cancel", viewerKey, nil, http.StatusForbidden},
		{"viewer lists sensors", "GET", "/api/v1/sensors", viewerKey, nil, http.StatusOK},
		{"operator cannot edit sensors", "PUT", "/api/v1/sensors/n1.temp", operatorKey, map[string]any{}, http.StatusForbidden},
		{"operator cannot list keys", "GET", "/api/v1/admin/keys", operatorKey, nil, http.StatusForbidden},
		{"admin submits", "POST", "/api/v1/jobs", adminKey, noopJob(1, 0), http.StatusAccepted},
		{"admin lists keys", "GET", "/api/v1/admin/keys", adminKey, nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.key, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.want == http.StatusForbidden {
				assert.Equal(t, "FORBIDDEN", errCode(t, w))
			}
		})
	}
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, 60)

	w := env.do(t, "GET", "/api/v1/nonexistent", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errCode(t, w))

	w = env.do(t, "DELETE", "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRouter_RateLimit(t *testing.T) {
	env := newTestEnv(t, 2)

	for i := 0; i < 2; i++ {
		w := env.do(t, "GET", "/api/v1/sensors", viewerKey, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := env.do(t, "GET", "/api/v1/sensors", viewerKey, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Counters are per key.
	w = env.do(t, "GET", "/api/v1/sensors", operatorKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// --- jobs ---

func TestJobs_SubmitPollAndStatus(t *testing.T) {
	env := newTestEnv(t, 1000)

	w := env.do(t, "POST", "/api/v1/jobs", operatorKey, noopJob(3, 0))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	job := data(t, w)
	id := job["id"].(string)
	assert.Equal(t, models.JobTypeNoop, job["type"])
	assert.Equal(t, false, job["deduplicated"])

	require.Eventually(t, func() bool {
		w := env.do(t, "GET", "/api/v1/jobs/"+id, viewerKey, nil)
		return w.Code == http.StatusOK && data(t, w)["status"] == models.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	w = env.do(t, "GET", "/api/v1/jobs/"+id, viewerKey, nil)
	got := data(t, w)
	assert.Equal(t, map[string]any{"steps_completed": float64(3)}, got["result"])
	assert.Equal(t, map[string]any{"candidates_evaluated": float64(3), "candidates_total": float64(3)}, got["progress"])

	w = env.do(t, "GET", "/api/v1/jobs/"+id+"/status", viewerKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.JobStatusCompleted, data(t, w)["status"])
}

func TestJobs_DedupeAndCancel(t *testing.T) {
	env := newTestEnv(t, 1000)
	body := noopJob(500, 20)

	w := env.do(t, "POST", "/api/v1/jobs", operatorKey, body)
	require.Equal(t, http.StatusAccepted, w.Code)
	id := data(t, w)["id"].(string)

	w = env.do(t, "POST", "/api/v1/jobs", operatorKey, body)
	require.Equal(t, http.StatusOK, w.Code)
	dup := data(t, w)
	assert.Equal(t, id, dup["id"])
	assert.Equal(t, true, dup["deduplicated"])

	w = env.do(t, "POST", "/api/v1/jobs", operatorKey, map[string]any{
		"type": body["type"], "params": body["params"], "dedupe": false,
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	other := data(t, w)["id"].(string)
	assert.NotEqual(t, id, other)

	for _, jobID := range []string{id, other} {
		w = env.do(t, "POST", "/api/v1/jobs/"+jobID+"/cancel", operatorKey, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, models.JobStatusCancelled, data(t, w)["status"])
	}

	// Cancelling again is a no-op.
	w = env.do(t, "POST", "/api/v1/jobs/"+id+"/cancel", operatorKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJobs_SubmitErrors(t *testing.T) {
	env := newTestEnv(t, 1000)
	require.NoError(t, env.store.UpsertSensor(context.Background(), &models.Sensor{
		ID: "n1.temp", NodeID: "n1", Kind: models.SensorKindMeasurement, IntervalSeconds: 60, AnalysisEligible: true,
	}))

	tests := []struct {
		name string
		body any
		want int
		code string
	}{
		{"malformed json", `{"type":`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing type", map[string]any{"params": map[string]any{}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown type", map[string]any{"type": "astrology"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad params", map[string]any{"type": "noop", "params": map[string]any{"steps": -1}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown param", map[string]any{"type": "noop", "params": map[string]any{"steps": 1, "bogus": true}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"too many buckets", map[string]any{"type": models.JobTypeRelatedSignals, "params": map[string]any{
			"focus_sensor_id":  "n1.temp",
			"start":            day0,
			"end":              day0.Add(365 * 24 * time.Hour),
			"interval_seconds": 1,
		}}, http.StatusUnprocessableEntity, "RESOURCE_EXCEEDED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/v1/jobs", operatorKey, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Equal(t, tt.code, errCode(t, w))
		})
	}
}

func TestJobs_ResourceExceededCarriesGuidance(t *testing.T) {
	env := newTestEnv(t, 1000)

	w := env.do(t, "POST", "/api/v1/jobs", operatorKey, map[string]any{
		"type": models.JobTypeCorrelationMatrix,
		"params": map[string]any{
			"sensor_ids":       []string{"a", "b"},
			"start":            day0,
			"end":              day0.Add(30 * 24 * time.Hour),
			"interval_seconds": 10,
		},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body struct {
		Error struct {
			Details map[string]int64 `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(259200), body.Error.Details["buckets"])
	assert.Equal(t, int64(52), body.Error.Details["suggested_interval_seconds"])
}

func TestJobs_LookupErrors(t *testing.T) {
	env := newTestEnv(t, 1000)

	w := env.do(t, "GET", "/api/v1/jobs/not-a-uuid", viewerKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/api/v1/jobs/"+uuid.NewString(), viewerKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errCode(t, w))

	w = env.do(t, "POST", "/api/v1/jobs/"+uuid.NewString()+"/cancel", operatorKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobs_TypesListed(t *testing.T) {
	env := newTestEnv(t, 1000)

	w := env.do(t, "GET", "/api/v1/jobs/types", viewerKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Data, models.JobTypeRelatedSignals)
	assert.Contains(t, body.Data, models.JobTypeNoop)
	assert.IsNonDecreasing(t, body.Data)
}

// --- preview ---

func TestPreview_NoopAndCache(t *testing.T) {
	env := newTestEnv(t, 1000)
	body := noopJob(2, 0)

	w := env.do(t, "POST", "/api/v1/preview", viewerKey, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := data(t, w)
	assert.Equal(t, false, first["cached"])
	assert.Equal(t, map[string]any{"steps_completed": float64(2)}, first["result"])

	w = env.do(t, "POST", "/api/v1/preview", viewerKey, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, data(t, w)["cached"])

	w = env.do(t, "POST", "/api/v1/preview", viewerKey, noopJob(11, 0))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreviewSeries_Endpoint(t *testing.T) {
	env := newTestEnv(t, 1000)
	ctx := context.Background()
	for _, id := range []string{"n1.level", "n1.rain"} {
		require.NoError(t, env.store.UpsertSensor(ctx, &models.Sensor{
			ID: id, NodeID: "n1", Kind: models.SensorKindMeasurement, IntervalSeconds: 3600, AnalysisEligible: true,
		}))
	}
	for h := -6; h < 30; h++ {
		env.reader.Add("n1.level", day0.Add(time.Duration(h)*time.Hour), float64(h))
		env.reader.Add("n1.rain", day0.Add(time.Duration(h)*time.Hour), float64(h*2))
	}
	req := map[string]any{
		"focus_sensor_id":     "n1.level",
		"candidate_sensor_id": "n1.rain",
		"start":               day0,
		"end":                 day0.Add(24 * time.Hour),
		"interval_seconds":    3600,
		"lag_seconds":         7200,
	}

	w := env.do(t, "POST", "/api/v1/preview/series", viewerKey, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := data(t, w)
	assert.Equal(t, false, got["fallback_used"])
	assert.Len(t, got["points"], 24)

	req["candidate_sensor_id"] = "n1.ghost"
	w = env.do(t, "POST", "/api/v1/preview/series", viewerKey, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SENSOR_NOT_FOUND", errCode(t, w))

	req["lag_seconds"] = 999999
	w = env.do(t, "POST", "/api/v1/preview/series", viewerKey, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- sensors ---

func TestSensors_Lifecycle(t *testing.T) {
	env := newTestEnv(t, 1000)

	w := env.do(t, "PUT", "/api/v1/sensors/n1.temp", adminKey, map[string]any{
		"node_id": "n1", "name": "Temperature", "unit": "C", "interval_seconds": 60,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sn := data(t, w)
	assert.Equal(t, models.SensorKindMeasurement, sn["kind"])
	assert.Equal(t, true, sn["analysis_eligible"])

	for _, id := range []string{"n1.flow", "n2.temp"} {
		w = env.do(t, "PUT", "/api/v1/sensors/"+id, adminKey, map[string]any{
			"node_id": id[:2], "interval_seconds": 300, "kind": models.SensorKindDerived,
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = env.do(t, "GET", "/api/v1/sensors?node_id=n1&limit=1", viewerKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Data []models.Sensor `json:"data"`
		Meta map[string]any  `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	assert.Equal(t, "n1.flow", page.Data[0].ID)
	assert.Equal(t, float64(2), page.Meta["total"])
	assert.Equal(t, true, page.Meta["has_next"])

	w = env.do(t, "GET", "/api/v1/sensors?limit=0", viewerKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "PUT", "/api/v1/sensors/n3.bad", adminKey, map[string]any{"kind": "guess"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errCode(t, w))

	w = env.do(t, "DELETE", "/api/v1/sensors/n1.temp", adminKey, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, "GET", "/api/v1/sensors/n1.temp", viewerKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- admin keys ---

func TestKeys_CreateUseRevoke(t *testing.T) {
	env := newTestEnv(t, 1000)

	w := env.do(t, "POST", "/api/v1/admin/keys", adminKey, map[string]any{
		"name": "dashboard", "scopes": []string{models.ScopeView},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := data(t, w)
	raw := created["key"].(string)
	assert.Regexp(t, `^fs_[0-9a-f]{40}$`, raw)
	apiKey := created["api_key"].(map[string]any)
	assert.Equal(t, raw[:8], apiKey["key_prefix"])
	assert.NotContains(t, apiKey, "key_hash")

	w = env.do(t, "GET", "/api/v1/sensors", raw, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, "POST", "/api/v1/jobs", raw, noopJob(1, 0))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "GET", "/api/v1/admin/keys", adminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []models.APIKey `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Data, 4)

	id := apiKey["id"].(string)
	w = env.do(t, "DELETE", "/api/v1/admin/keys/"+id, adminKey, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, "DELETE", "/api/v1/admin/keys/"+id, adminKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, "GET", "/api/v1/sensors", raw, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestKeys_CreateValidation(t *testing.T) {
	env := newTestEnv(t, 1000)

	for _, body := range []map[string]any{
		{"name": "", "scopes": []string{"view"}},
		{"name": "x"},
		{"name": "x", "scopes": []string{"superuser"}},
	} {
		w := env.do(t, "POST", "/api/v1/admin/keys", adminKey, body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", errCode(t, w))
	}

	w := env.do(t, "DELETE", "/api/v1/admin/keys/nope", adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
