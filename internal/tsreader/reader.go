package tsreader

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// Sentinel errors for time-series reader failures.
var (
	ErrReaderUnavailable = errors.New("time-series reader unavailable")
	ErrReaderTimeout     = errors.New("time-series reader timeout")
	ErrReaderQuery       = errors.New("time-series query rejected")
)

// Reader returns bucketed series for a set of sensors.
type Reader interface {
	Query(ctx context.Context, req QueryRequest) (*QueryResult, error)
}

// QueryRequest asks for buckets of IntervalSeconds covering [Start, End).
type QueryRequest struct {
	SensorIDs       []string
	Start           time.Time
	End             time.Time
	IntervalSeconds int64
}

// QueryResult holds one bucket slice per requested sensor. Buckets after
// Watermark are not yet available and are never returned.
type QueryResult struct {
	Series    map[string][]models.Point
	Watermark time.Time
}

// IsTransient reports whether a read error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrReaderUnavailable) || errors.Is(err, ErrReaderTimeout)
}
