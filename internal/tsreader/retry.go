package tsreader

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/kiranshivaraju/fleetsignal/internal/metrics"
)

// RetryingReader retries transient read failures with exponential backoff.
type RetryingReader struct {
	next     Reader
	attempts uint
	delay    time.Duration
}

// NewRetryingReader wraps next. attempts counts the first try.
func NewRetryingReader(next Reader, attempts uint, delay time.Duration) *RetryingReader {
	if attempts == 0 {
		attempts = 1
	}
	return &RetryingReader{next: next, attempts: attempts, delay: delay}
}

func (r *RetryingReader) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	var result *QueryResult
	err := retry.Do(
		func() error {
			res, err := r.next.Query(ctx, req)
			if err != nil {
				return err
			}
			result = res
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(_ uint, _ error) { metrics.ReaderRetry() }),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

var _ Reader = (*RetryingReader)(nil)
