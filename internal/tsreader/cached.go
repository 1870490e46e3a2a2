package tsreader

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/kiranshivaraju/fleetsignal/internal/metrics"
)

// CachingReader keeps recent results for windows that end before the
// watermark. Results that include not-yet-available buckets are never cached.
// Cached point slices are shared and must not be modified by callers.
type CachingReader struct {
	next  Reader
	cache *lru.Cache
}

// NewCachingReader wraps next with an LRU of size entries.
func NewCachingReader(next Reader, size int) (*CachingReader, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create series cache: %w", err)
	}
	return &CachingReader{next: next, cache: c}, nil
}

func (c *CachingReader) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	key := cacheKey(req)
	if v, ok := c.cache.Get(key); ok {
		metrics.ReaderCacheLookup(true)
		return v.(*QueryResult), nil
	}
	metrics.ReaderCacheLookup(false)

	res, err := c.next.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	if !res.Watermark.IsZero() && !req.End.After(res.Watermark) {
		c.cache.Add(key, res)
	}
	return res, nil
}

func cacheKey(req QueryRequest) string {
	return fmt.Sprintf("%s|%d|%d|%d", strings.Join(req.SensorIDs, ","),
		req.Start.Unix(), req.End.Unix(), req.IntervalSeconds)
}

var _ Reader = (*CachingReader)(nil)
