package tsreader

import (
	"context"

	"golang.org/x/time/rate"
)

// ThrottledReader caps the request rate against the series backend.
type ThrottledReader struct {
	next    Reader
	limiter *rate.Limiter
}

// NewThrottledReader allows rps queries per second with the given burst.
// A non-positive rps disables throttling.
func NewThrottledReader(next Reader, rps float64, burst int) *ThrottledReader {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &ThrottledReader{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (t *ThrottledReader) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.next.Query(ctx, req)
}

var _ Reader = (*ThrottledReader)(nil)
