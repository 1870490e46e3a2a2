package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

const (
	JobTypeRelatedSignals    = "related_signals"
	JobTypeCorrelationMatrix = "correlation_matrix"
	JobTypeCooccurrence      = "cooccurrence"
	JobTypeShapeProfile      = "shape_profile"
	JobTypeEventMatch        = "event_match"
	JobTypeNoop              = "noop"
)

// JobTransitions lists the statuses each status may move to.
// Terminal statuses have no entry.
var JobTransitions = map[string][]string{
	JobStatusQueued:  {JobStatusRunning, JobStatusCancelled, JobStatusFailed},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range JobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionSources returns every status that may move to the given status.
func TransitionSources(to string) []string {
	var sources []string
	for _, from := range []string{JobStatusQueued, JobStatusRunning} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// IsTerminalStatus reports whether no further transitions are possible.
func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled
}

// JobProgress counts candidates scored so far. Both fields only grow.
type JobProgress struct {
	CandidatesEvaluated int `json:"candidates_evaluated"`
	CandidatesTotal     int `json:"candidates_total"`
}

// Job is a persisted analysis request. Clients submit via POST /api/v1/jobs and
// poll GET /api/v1/jobs/{id} until the status is terminal.
type Job struct {
	ID            uuid.UUID       `db:"id"              json:"id"`
	Type          string          `db:"job_type"        json:"type"`
	DedupeKeyHash string          `db:"dedupe_key_hash" json:"dedupe_key_hash"`
	Params        json.RawMessage `db:"params"          json:"params"`
	Status        string          `db:"status"          json:"status"`
	Progress      JobProgress     `json:"progress"`
	Result        json.RawMessage `db:"result"          json:"result,omitempty"`
	ErrorMessage  *string         `db:"error_message"   json:"error_message,omitempty"`
	CreatedBy     string          `db:"created_by"      json:"created_by"`
	StartedAt     *time.Time      `db:"started_at"      json:"started_at,omitempty"`
	CompletedAt   *time.Time      `db:"completed_at"    json:"completed_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"      json:"updated_at"`
}
