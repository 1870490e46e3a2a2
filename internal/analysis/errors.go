package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned from a checkpoint once the job has been cancelled.
	ErrCancelled = errors.New("analysis cancelled")
	// ErrBudgetExceeded is returned from a checkpoint once the compute budget is spent.
	ErrBudgetExceeded = errors.New("compute budget exceeded")
	// ErrNoFocusData is returned when the focus series has no points in the window.
	ErrNoFocusData = errors.New("focus series has no data in the requested window")
)

// ValidationError reports malformed or out-of-range request parameters.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameters: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid wraps a message in a ValidationError.
func Invalid(format string, args ...any) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}

// ResourceExceededError rejects a request whose resolution would produce too many buckets.
type ResourceExceededError struct {
	Buckets           int64
	MaxBuckets        int64
	SuggestedInterval int64
}

func (e *ResourceExceededError) Error() string {
	return fmt.Sprintf("request needs %d buckets, limit is %d; use interval_seconds >= %d",
		e.Buckets, e.MaxBuckets, e.SuggestedInterval)
}

// CandidateReadError marks a single candidate whose series could not be read.
type CandidateReadError struct {
	CandidateID string
	Err         error
}

func (e *CandidateReadError) Error() string {
	return fmt.Sprintf("read candidate %s: %v", e.CandidateID, e.Err)
}

func (e *CandidateReadError) Unwrap() error { return e.Err }

// CheckBuckets returns a ResourceExceededError when the window at the interval
// exceeds maxBuckets.
func CheckBuckets(windowSeconds, interval, maxBuckets int64) error {
	if interval <= 0 {
		return Invalid("interval_seconds must be > 0")
	}
	buckets := (windowSeconds + interval - 1) / interval
	if buckets <= maxBuckets {
		return nil
	}
	suggested := (windowSeconds + maxBuckets - 1) / maxBuckets
	return &ResourceExceededError{Buckets: buckets, MaxBuckets: maxBuckets, SuggestedInterval: suggested}
}
