package tsreader

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

type sample struct {
	ts    int64
	value float64
}

// MemoryReader buckets raw samples held in memory. It is used by tests and
// by the engine's self-test job.
type MemoryReader struct {
	mu        sync.RWMutex
	samples   map[string][]sample
	watermark time.Time
	failures  map[string]error
	queries   int
}

// NewMemoryReader creates an empty MemoryReader.
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{
		samples:  make(map[string][]sample),
		failures: make(map[string]error),
	}
}

// Add appends a raw sample for a sensor.
func (m *MemoryReader) Add(sensorID string, ts time.Time, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[sensorID] = append(m.samples[sensorID], sample{ts: ts.Unix(), value: value})
}

// SetWatermark hides every sample at or after t.
func (m *MemoryReader) SetWatermark(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermark = t
}

// FailSensor makes any query touching sensorID return err.
func (m *MemoryReader) FailSensor(sensorID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[sensorID] = err
}

// Queries returns how many queries have been served.
func (m *MemoryReader) Queries() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queries
}

func (m *MemoryReader) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.queries++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range req.SensorIDs {
		if err := m.failures[id]; err != nil {
			return nil, err
		}
	}

	interval := req.IntervalSeconds
	if interval <= 0 {
		interval = 1
	}
	start, end := req.Start.Unix(), req.End.Unix()
	if !m.watermark.IsZero() && m.watermark.Unix() < end {
		end = m.watermark.Unix()
	}

	result := &QueryResult{Series: make(map[string][]models.Point, len(req.SensorIDs)), Watermark: m.watermark}
	for _, id := range req.SensorIDs {
		buckets := make(map[int64]*models.Point)
		for _, s := range m.samples[id] {
			if s.ts < start || s.ts >= end {
				continue
			}
			b := floorTo(s.ts, interval)
			p, ok := buckets[b]
			if !ok {
				p = &models.Point{Timestamp: b}
				buckets[b] = p
			}
			p.Count++
			p.Value += (s.value - p.Value) / float64(p.Count)
		}
		pts := make([]models.Point, 0, len(buckets))
		for _, p := range buckets {
			pts = append(pts, *p)
		}
		sort.Slice(pts, func(i, j int) bool { return pts[i].Timestamp < pts[j].Timestamp })
		result.Series[id] = pts
	}
	return result, nil
}

func floorTo(epoch, step int64) int64 {
	r := epoch % step
	if r < 0 {
		r += step
	}
	return epoch - r
}

var _ Reader = (*MemoryReader)(nil)
