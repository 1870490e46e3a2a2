package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/internal/metrics"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// scanRequest describes one pass over a scored pool.
type scanRequest struct {
	Sensors  []*models.Sensor
	Start    time.Time
	End      time.Time
	Interval int64
	Horizon  int64
	// Evaluate scores one readable, non-empty candidate and returns a skip
	// reason, or "" when the candidate produced a result.
	Evaluate func(sn *models.Sensor, s analysis.Series) string
}

// scanResult reports what happened to candidates that produced no result.
type scanResult struct {
	Skipped          []models.SkippedCandidate
	Incomplete       bool
	IncompleteReason string
}

// scan reads candidates in chunks and evaluates them one at a time,
// checkpointing before each. Running out of budget stops the scan and marks
// it incomplete; cancellation aborts it with analysis.ErrCancelled.
func scan(ctx context.Context, run *Run, deps Deps, req scanRequest) (*scanResult, error) {
	out := &scanResult{Skipped: []models.SkippedCandidate{}}
	skip := func(id, reason string) {
		out.Skipped = append(out.Skipped, models.SkippedCandidate{CandidateID: id, Reason: reason})
		metrics.CandidateSkipped(reason)
	}

	for _, chunk := range chunks(req.Sensors, readBatchSize) {
		if err := run.Checkpoint(ctx); err != nil {
			return out, stopScan(out, err, run.Evaluated(), len(req.Sensors))
		}
		reads, err := readCandidates(ctx, deps.Reader, chunk, req.Start, req.End, req.Interval, req.Horizon)
		if err != nil {
			return out, analysis.ErrCancelled
		}

		for _, sn := range chunk {
			if err := run.Checkpoint(ctx); err != nil {
				return out, stopScan(out, err, run.Evaluated(), len(req.Sensors))
			}

			if readErr, failed := reads.failed[sn.ID]; failed {
				run.Logger.Warn("candidate read failed", "candidate_id", sn.ID, "error", readErr)
				skip(sn.ID, analysis.ReasonReadFailed)
			} else if s := reads.series[sn.ID]; s.Len() == 0 {
				skip(sn.ID, analysis.ReasonNoData)
			} else if reason := req.Evaluate(sn, s); reason != "" {
				skip(sn.ID, reason)
			}

			if err := run.Advance(ctx, 1); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// stopScan converts a checkpoint error into the scan's terminal state. A
// spent budget is not an error: the partial result is flagged instead.
func stopScan(out *scanResult, err error, evaluated, total int) error {
	if errors.Is(err, analysis.ErrBudgetExceeded) {
		out.Incomplete = true
		out.IncompleteReason = fmt.Sprintf("compute budget exceeded after %d of %d candidates", evaluated, total)
		return nil
	}
	return err
}
