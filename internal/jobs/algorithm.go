package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/internal/metrics"
	"github.com/kiranshivaraju/fleetsignal/internal/store"
)

// Algorithm is one job type the engine can run. Prepare validates and
// normalizes raw parameters; preview selects the bounded synchronous limits.
type Algorithm interface {
	Type() string
	Prepare(raw json.RawMessage, preview bool) (Task, error)
}

// Task is a prepared, validated unit of work.
type Task interface {
	// Params returns the normalized parameters. They are persisted with the
	// job and hashed into its dedupe key.
	Params() any
	// Compute runs the analysis. It must call run.Checkpoint between
	// candidates and run.Advance after each one.
	Compute(ctx context.Context, run *Run) (any, error)
}

// Run is the handle a Task uses to report progress and observe cancellation.
type Run struct {
	JobID    uuid.UUID
	Type     string
	Logger   *slog.Logger
	store    store.Store
	deadline time.Time

	evaluated int
	total     int
}

func newRun(jobID uuid.UUID, jobType string, st store.Store, budget time.Duration) *Run {
	r := &Run{
		JobID:  jobID,
		Type:   jobType,
		Logger: slog.With("job_id", jobID, "job_type", jobType),
		store:  st,
	}
	if budget > 0 {
		r.deadline = time.Now().Add(budget)
	}
	return r
}

// newPreviewRun returns a Run that persists nothing.
func newPreviewRun(jobType string, budget time.Duration) *Run {
	return newRun(uuid.Nil, jobType, nil, budget)
}

// SetTotal fixes the progress denominator.
func (r *Run) SetTotal(ctx context.Context, total int) error {
	if total > r.total {
		r.total = total
	}
	return r.persist(ctx)
}

// Advance records n more evaluated candidates.
func (r *Run) Advance(ctx context.Context, n int) error {
	r.evaluated += n
	metrics.CandidateEvaluated(r.Type, n)
	return r.persist(ctx)
}

// Evaluated returns the number of candidates advanced so far.
func (r *Run) Evaluated() int { return r.evaluated }

func (r *Run) persist(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	err := r.store.UpdateJobProgress(ctx, r.JobID, r.evaluated, r.total)
	if errors.Is(err, store.ErrJobNotRunning) {
		return analysis.ErrCancelled
	}
	if err != nil && ctx.Err() != nil {
		return analysis.ErrCancelled
	}
	if err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	return nil
}

// Checkpoint returns analysis.ErrCancelled once the job is cancelled and
// analysis.ErrBudgetExceeded once the compute budget is spent.
func (r *Run) Checkpoint(ctx context.Context) error {
	if ctx.Err() != nil {
		return analysis.ErrCancelled
	}
	if !r.deadline.IsZero() && time.Now().After(r.deadline) {
		return analysis.ErrBudgetExceeded
	}
	return nil
}
