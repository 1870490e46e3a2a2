package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is a brute-force cosine index for tests and small fleets.
type MemoryIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{vectors: make(map[string][]float32)}
}

// Put stores or replaces a sensor's embedding.
func (m *MemoryIndex) Put(sensorID string, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors[sensorID] = vec
}

func (m *MemoryIndex) Embedding(_ context.Context, sensorID string) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vectors[sensorID]
	if !ok {
		return nil, ErrEmbeddingNotFound
	}
	return v, nil
}

func (m *MemoryIndex) Search(_ context.Context, embedding []float32, k int) ([]Neighbor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Neighbor, 0, len(m.vectors))
	for id, v := range m.vectors {
		out = append(out, Neighbor{SensorID: id, Distance: cosineDistance(embedding, v)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].SensorID < out[j].SensorID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var _ Index = (*MemoryIndex)(nil)
