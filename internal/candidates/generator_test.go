package candidates

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/internal/store"
	"github.com/kiranshivaraju/fleetsignal/internal/tsreader"
	"github.com/kiranshivaraju/fleetsignal/internal/vectorindex"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var windowStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store  *store.MemoryStore
	reader *tsreader.MemoryReader
	index  *vectorindex.MemoryIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		store:  store.NewMemoryStore(),
		reader: tsreader.NewMemoryReader(),
		index:  vectorindex.NewMemoryIndex(),
	}
}

// addSensor registers a sensor with the given number of hourly samples.
func (f *fixture) addSensor(t *testing.T, sn models.Sensor, samples int) {
	t.Helper()
	if sn.Kind == "" {
		sn.Kind = models.SensorKindMeasurement
	}
	if sn.IntervalSeconds == 0 {
		sn.IntervalSeconds = 3600
	}
	require.NoError(t, f.store.UpsertSensor(context.Background(), &sn))
	for i := 0; i < samples; i++ {
		f.reader.Add(sn.ID, windowStart.Add(time.Duration(i)*time.Hour), float64(i))
	}
}

func ids(sensors []*models.Sensor) []string {
	out := make([]string, len(sensors))
	for i, sn := range sensors {
		out[i] = sn.ID
	}
	return out
}

func request(cap int) Request {
	return Request{
		FocusSensorID: "focus",
		Start:         windowStart,
		End:           windowStart.Add(24 * time.Hour),
		Cap:           cap,
	}
}

func TestBuild_EligibilityRules(t *testing.T) {
	f := newFixture(t)
	deleted := time.Now()
	f.addSensor(t, models.Sensor{ID: "focus", NodeID: "n1", AnalysisEligible: true}, 10)
	f.addSensor(t, models.Sensor{ID: "b.ok", NodeID: "n1", AnalysisEligible: true}, 10)
	f.addSensor(t, models.Sensor{ID: "a.ok", NodeID: "n2", AnalysisEligible: true}, 10)
	f.addSensor(t, models.Sensor{ID: "gone", NodeID: "n1", AnalysisEligible: true, DeletedAt: &deleted}, 10)
	f.addSensor(t, models.Sensor{ID: "opted.out", NodeID: "n1", AnalysisEligible: false}, 10)
	f.addSensor(t, models.Sensor{ID: "engine.out", NodeID: "n1", AnalysisEligible: true, Kind: models.SensorKindAnalysisOutput}, 10)
	f.addSensor(t, models.Sensor{ID: "forecast", NodeID: "n1", AnalysisEligible: true, Kind: models.SensorKindForecast}, 10)
	f.addSensor(t, models.Sensor{ID: "sparse", NodeID: "n1", AnalysisEligible: true}, 2)

	g := NewGenerator(f.store, f.reader, nil, analysis.DefaultPolicy())

	pool, err := g.Build(context.Background(), request(0))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ok", "b.ok", "forecast"}, ids(pool.Eligible))
	assert.Equal(t, 3, pool.ToScore)
	assert.False(t, pool.NarrowingUsed)

	req := request(0)
	req.ExcludeDerived = true
	req.NodeID = "n1"
	pool, err = g.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.ok"}, ids(pool.Eligible))
}

func TestBuild_ExplicitSensorList(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"focus", "a", "b", "c"} {
		f.addSensor(t, models.Sensor{ID: id, AnalysisEligible: true}, 4)
	}
	g := NewGenerator(f.store, f.reader, nil, analysis.DefaultPolicy())

	req := request(0)
	req.SensorIDs = []string{"c", "focus", "a", "missing"}
	pool, err := g.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(pool.Eligible))
}

func TestBuild_NoCapScoresEverything(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 450; i++ {
		f.addSensor(t, models.Sensor{ID: fmt.Sprintf("s%03d", i), NodeID: "n1", AnalysisEligible: true}, 4)
	}
	g := NewGenerator(f.store, f.reader, f.index, analysis.DefaultPolicy())

	pool, err := g.Build(context.Background(), request(0))
	require.NoError(t, err)
	assert.Equal(t, 450, pool.Size())
	assert.Equal(t, 450, pool.ToScore)
	assert.Len(t, pool.Scored(), 450)
	// 450 sensors fit in three reader batches.
	assert.Equal(t, 3, f.reader.Queries())
}

func TestBuild_CapBelowThresholdStillScoresAll(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.addSensor(t, models.Sensor{ID: fmt.Sprintf("s%02d", i), AnalysisEligible: true}, 4)
	}
	g := NewGenerator(f.store, f.reader, f.index, analysis.DefaultPolicy())

	pool, err := g.Build(context.Background(), request(4))
	require.NoError(t, err)
	assert.Equal(t, 10, pool.Size())
	assert.Equal(t, 10, pool.ToScore)
	assert.False(t, pool.NarrowingUsed)
}

func TestBuild_NarrowingPutsShortlistFirstAndKeepsMinPool(t *testing.T) {
	f := newFixture(t)
	p := analysis.DefaultPolicy()
	p.NarrowingThreshold = 20
	p.MinPool = 8
	p.ShortlistK = 3

	f.addSensor(t, models.Sensor{ID: "focus", AnalysisEligible: true}, 4)
	f.index.Put("focus", []float32{1, 0})
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("s%02d", i)
		f.addSensor(t, models.Sensor{ID: id, AnalysisEligible: true}, 4)
		f.index.Put(id, []float32{0, 1})
	}
	f.index.Put("s27", []float32{1, 0.01})
	f.index.Put("s28", []float32{1, 0.02})

	g := NewGenerator(f.store, f.reader, f.index, p)
	pool, err := g.Build(context.Background(), request(2))
	require.NoError(t, err)

	assert.True(t, pool.NarrowingUsed)
	assert.Equal(t, 30, pool.Size(), "narrowing never changes the pool size")
	assert.Equal(t, 8, pool.ToScore, "min_pool floor applies above the cap")
	scored := ids(pool.Scored())
	assert.Equal(t, "s27", scored[0])
	assert.Equal(t, "s28", scored[1])
	assert.NotContains(t, scored, "focus")
}

func TestBuild_MissingEmbeddingFallsBack(t *testing.T) {
	f := newFixture(t)
	p := analysis.DefaultPolicy()
	p.NarrowingThreshold = 5
	for i := 0; i < 10; i++ {
		f.addSensor(t, models.Sensor{ID: fmt.Sprintf("s%02d", i), AnalysisEligible: true}, 4)
	}
	g := NewGenerator(f.store, f.reader, f.index, p)

	pool, err := g.Build(context.Background(), request(3))
	require.NoError(t, err)
	assert.False(t, pool.NarrowingUsed)
	assert.Equal(t, 10, pool.ToScore)
}

func TestBuild_UnreadableSensorsStayInPool(t *testing.T) {
	f := newFixture(t)
	f.addSensor(t, models.Sensor{ID: "s1", AnalysisEligible: true}, 4)
	f.addSensor(t, models.Sensor{ID: "s2", AnalysisEligible: true}, 1)
	f.reader.FailSensor("s1", tsreader.ErrReaderUnavailable)
	g := NewGenerator(f.store, f.reader, nil, analysis.DefaultPolicy())

	pool, err := g.Build(context.Background(), request(0))
	require.NoError(t, err)
	// The failed batch covered both sensors, so neither count is known.
	assert.Equal(t, []string{"s1", "s2"}, ids(pool.Eligible))
}

func TestBuild_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.addSensor(t, models.Sensor{ID: "s1", AnalysisEligible: true}, 4)
	g := NewGenerator(f.store, f.reader, nil, analysis.DefaultPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Build(ctx, request(0))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBuild_InvalidWindow(t *testing.T) {
	f := newFixture(t)
	f.addSensor(t, models.Sensor{ID: "s1", AnalysisEligible: true}, 4)
	g := NewGenerator(f.store, f.reader, nil, analysis.DefaultPolicy())

	req := request(0)
	req.End = req.Start
	_, err := g.Build(context.Background(), req)
	var verr *analysis.ValidationError
	assert.ErrorAs(t, err, &verr)
}
