package vectorindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/fleetsignal/internal/config"
)

var (
	ErrEmbeddingNotFound = errors.New("embedding not found")
	ErrIndexUnavailable  = errors.New("vector index unavailable")
)

// Neighbor is one approximate nearest-neighbor hit. Smaller distances are closer.
type Neighbor struct {
	SensorID string  `json:"sensor_id"`
	Distance float64 `json:"distance"`
}

// Index finds sensors whose series embeddings resemble a given one.
type Index interface {
	Embedding(ctx context.Context, sensorID string) ([]float32, error)
	Search(ctx context.Context, embedding []float32, k int) ([]Neighbor, error)
}

// New constructs the configured index. Provider "none" returns a nil Index,
// which disables candidate narrowing.
func New(cfg config.VectorIndexConfig) (Index, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "http":
		return NewHTTPClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown vector index provider %q: must be one of none, http", cfg.Provider)
	}
}
