// Package candidates enumerates the sensors an analysis job scores against a
// focus sensor and, for large fleets, orders them by embedding similarity.
package candidates

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/internal/store"
	"github.com/kiranshivaraju/fleetsignal/internal/tsreader"
	"github.com/kiranshivaraju/fleetsignal/internal/vectorindex"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

const (
	sampleBatchSize   = 200
	sampleConcurrency = 4
)

// Request scopes one enumeration. An empty NodeID means every node and an
// empty SensorIDs means every sensor in scope. Cap <= 0 means no cap.
type Request struct {
	FocusSensorID  string
	NodeID         string
	SensorIDs      []string
	ExcludeDerived bool
	Start          time.Time
	End            time.Time
	Cap            int
}

// Pool is the snapshot a job scores. Eligible is sorted by id and never
// shrinks because of narrowing; Ordered is Eligible in scoring order and
// ToScore is the length of its prefix that will actually be scored. Without
// narrowing a cap only limits what is displayed, so ToScore is the pool size.
type Pool struct {
	Eligible      []*models.Sensor
	Ordered       []*models.Sensor
	ToScore       int
	NarrowingUsed bool
}

// Size is the number of eligible candidates.
func (p *Pool) Size() int { return len(p.Eligible) }

// Scored returns the candidates that will be scored, in order.
func (p *Pool) Scored() []*models.Sensor { return p.Ordered[:p.ToScore] }

// Generator builds candidate pools from the sensor catalog.
type Generator struct {
	store  store.Store
	reader tsreader.Reader
	index  vectorindex.Index
	policy analysis.Policy
}

// NewGenerator creates a Generator. index may be nil, which disables narrowing.
func NewGenerator(st store.Store, reader tsreader.Reader, index vectorindex.Index, policy analysis.Policy) *Generator {
	return &Generator{store: st, reader: reader, index: index, policy: policy}
}

// Eligible reports whether sn may be scored against focusID regardless of data.
func Eligible(sn *models.Sensor, focusID string, excludeDerived bool) bool {
	switch {
	case sn.ID == focusID:
		return false
	case sn.DeletedAt != nil:
		return false
	case !sn.AnalysisEligible:
		return false
	case sn.Kind == models.SensorKindAnalysisOutput:
		return false
	case excludeDerived && sn.IsDerivedOrForecast():
		return false
	}
	return true
}

// Build enumerates the eligible pool and decides which candidates get scored.
func (g *Generator) Build(ctx context.Context, req Request) (*Pool, error) {
	sensors, err := g.store.ListSensors(ctx, store.SensorFilter{NodeID: req.NodeID})
	if err != nil {
		return nil, fmt.Errorf("list sensors: %w", err)
	}

	var only map[string]bool
	if len(req.SensorIDs) > 0 {
		only = make(map[string]bool, len(req.SensorIDs))
		for _, id := range req.SensorIDs {
			only[id] = true
		}
	}

	var scoped []*models.Sensor
	for _, sn := range sensors {
		if only != nil && !only[sn.ID] {
			continue
		}
		if Eligible(sn, req.FocusSensorID, req.ExcludeDerived) {
			scoped = append(scoped, sn)
		}
	}

	counts, unknown, err := g.sampleCounts(ctx, scoped, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	eligible := make([]*models.Sensor, 0, len(scoped))
	for _, sn := range scoped {
		if unknown[sn.ID] || counts[sn.ID] >= g.policy.MinSamples {
			eligible = append(eligible, sn)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	pool := &Pool{Eligible: eligible, Ordered: eligible, ToScore: len(eligible)}
	if g.shouldNarrow(req, len(eligible)) {
		g.narrow(ctx, req, pool)
	}
	return pool, nil
}

func (g *Generator) shouldNarrow(req Request, n int) bool {
	return g.index != nil && req.Cap > 0 && req.Cap < n && n > g.policy.NarrowingThreshold
}

// narrow moves the ANN shortlist to the front of the scoring order and
// widens ToScore to at least MinPool. Failures leave the pool in id order.
func (g *Generator) narrow(ctx context.Context, req Request, pool *Pool) {
	logger := slog.With("focus_sensor_id", req.FocusSensorID)

	emb, err := g.index.Embedding(ctx, req.FocusSensorID)
	if err != nil {
		logger.Warn("narrowing skipped: no focus embedding", "error", err)
		return
	}
	k := g.policy.ShortlistK
	if req.Cap > k {
		k = req.Cap
	}
	neighbors, err := g.index.Search(ctx, emb, k)
	if err != nil {
		logger.Warn("narrowing skipped: vector search failed", "error", err)
		return
	}

	byID := make(map[string]*models.Sensor, len(pool.Eligible))
	for _, sn := range pool.Eligible {
		byID[sn.ID] = sn
	}

	ordered := make([]*models.Sensor, 0, len(pool.Eligible))
	taken := make(map[string]bool, len(neighbors))
	for _, nb := range neighbors {
		sn, ok := byID[nb.SensorID]
		if !ok || taken[nb.SensorID] {
			continue
		}
		taken[nb.SensorID] = true
		ordered = append(ordered, sn)
	}
	for _, sn := range pool.Eligible {
		if !taken[sn.ID] {
			ordered = append(ordered, sn)
		}
	}

	toScore := req.Cap
	if g.policy.MinPool > toScore {
		toScore = g.policy.MinPool
	}
	if toScore > len(ordered) {
		toScore = len(ordered)
	}

	pool.Ordered = ordered
	pool.ToScore = toScore
	pool.NarrowingUsed = true
	logger.Info("candidate pool narrowed",
		"eligible", len(pool.Eligible), "shortlisted", len(taken), "to_score", toScore)
}

// sampleCounts reads one bucket per sensor over the window and returns how
// many raw samples each sensor has there. Sensors whose batch could not be
// read are reported as unknown so they stay in the pool and surface later as
// skipped candidates instead of silently vanishing.
func (g *Generator) sampleCounts(ctx context.Context, sensors []*models.Sensor, start, end time.Time) (counts map[string]int, unknown map[string]bool, err error) {
	counts = make(map[string]int, len(sensors))
	unknown = make(map[string]bool)
	if len(sensors) == 0 {
		return counts, unknown, nil
	}
	window := int64(end.Sub(start) / time.Second)
	if window <= 0 {
		return nil, nil, analysis.Invalid("end must be after start")
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(sampleConcurrency)

	for i := 0; i < len(sensors); i += sampleBatchSize {
		j := i + sampleBatchSize
		if j > len(sensors) {
			j = len(sensors)
		}
		ids := make([]string, 0, j-i)
		for _, sn := range sensors[i:j] {
			ids = append(ids, sn.ID)
		}

		eg.Go(func() error {
			res, err := g.reader.Query(egCtx, tsreader.QueryRequest{
				SensorIDs: ids, Start: start, End: end, IntervalSeconds: window,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				slog.Warn("sample count query failed", "sensors", len(ids), "error", err)
				for _, id := range ids {
					unknown[id] = true
				}
				return nil
			}
			for id, pts := range res.Series {
				for _, p := range pts {
					counts[id] += p.Count
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("count samples: %w", err)
	}
	return counts, unknown, nil
}
