package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrDuplicateKey      = errors.New("duplicate key violation")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrJobNotRunning     = errors.New("job is not running")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	UpsertSensor(ctx context.Context, sensor *models.Sensor) error
	GetSensor(ctx context.Context, id string) (*models.Sensor, error)
	ListSensors(ctx context.Context, filter SensorFilter) ([]*models.Sensor, error)

	// CreateJobIfAbsent inserts job unless a queued or running job with the
	// same type and dedupe hash exists, in which case that job is returned
	// and created is false.
	CreateJobIfAbsent(ctx context.Context, job *models.Job) (existing *models.Job, created bool, err error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	// UpdateJobProgress raises the progress counters of a running job. They
	// never decrease. Returns ErrJobNotRunning once the job left running.
	UpdateJobProgress(ctx context.Context, id uuid.UUID, evaluated, total int) error
	ReconcileOrphanedJobs(ctx context.Context, message string) ([]uuid.UUID, error)
	DeleteJobsCompletedBefore(ctx context.Context, before time.Time) (int64, error)
}

// SensorFilter narrows ListSensors. An empty NodeID means all nodes.
type SensorFilter struct {
	NodeID         string
	IncludeDeleted bool
}

type jobUpdateParams struct {
	ErrorMessage *string
	Result       json.RawMessage
	Total        *int
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithResult(result json.RawMessage) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Result = result
	}
}

// WithCandidatesTotal sets the progress denominator, typically on start.
func WithCandidatesTotal(total int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Total = &total
	}
}
