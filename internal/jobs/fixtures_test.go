package jobs

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/internal/cache"
	"github.com/kiranshivaraju/fleetsignal/internal/candidates"
	"github.com/kiranshivaraju/fleetsignal/internal/store"
	"github.com/kiranshivaraju/fleetsignal/internal/tsreader"
	"github.com/kiranshivaraju/fleetsignal/internal/vectorindex"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
	"github.com/stretchr/testify/require"
)

var (
	operator = models.Principal{Name: "operator", Scopes: []string{models.ScopeRun, models.ScopeView}}
	viewer   = models.Principal{Name: "viewer", Scopes: []string{models.ScopeView}}
	nobody   = models.Principal{Name: "nobody"}

	day0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
)

type harness struct {
	store  *store.MemoryStore
	reader *tsreader.MemoryReader
	index  *vectorindex.MemoryIndex
	cache  *cache.MemoryCache
	policy analysis.Policy
	engine *Engine
}

func newHarness(t *testing.T, workers int) *harness {
	t.Helper()
	h := &harness{
		store:  store.NewMemoryStore(),
		reader: tsreader.NewMemoryReader(),
		index:  vectorindex.NewMemoryIndex(),
		cache:  cache.NewMemoryCache(),
		policy: analysis.DefaultPolicy(),
	}
	h.engine = NewEngine(Deps{
		Store:      h.store,
		Reader:     h.reader,
		Candidates: candidates.NewGenerator(h.store, h.reader, h.index, h.policy),
		Policy:     h.policy,
	}, h.cache, Config{
		Workers:         workers,
		StatusTTL:       time.Minute,
		PreviewTimeout:  5 * time.Second,
		PreviewCacheTTL: time.Minute,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.engine.Shutdown(ctx)
	})
	return h
}

func (h *harness) sensor(t *testing.T, id string, kind string, interval int) {
	t.Helper()
	require.NoError(t, h.store.UpsertSensor(context.Background(), &models.Sensor{
		ID: id, NodeID: "node-1", Kind: kind, IntervalSeconds: interval, AnalysisEligible: true,
	}))
}

// hourly writes values[i] at base + (i+offset) hours.
func (h *harness) hourly(id string, values []float64, offset int) {
	for i, v := range values {
		h.reader.Add(id, day0.Add(time.Duration(i+offset)*time.Hour), v)
	}
}

// square is noise in [-0.5, 0.5) on a square wave that flips between 0 and
// 20 every `every` samples. A zero every gives plain noise.
func square(n int, seed int64, every int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.Float64() - 0.5
		if every > 0 {
			out[i] += 20 * float64((i/every)%2)
		}
	}
	return out
}

func params(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func waitForStatus(t *testing.T, h *harness, id uuid.UUID, status string) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		j, err := h.store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	}, 10*time.Second, 5*time.Millisecond, "job never reached %s", status)
	return job
}

func waitTerminal(t *testing.T, h *harness, id uuid.UUID) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		j, err := h.store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return models.IsTerminalStatus(j.Status)
	}, 10*time.Second, 5*time.Millisecond)
	return job
}
