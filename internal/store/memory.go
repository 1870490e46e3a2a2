package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// MemoryStore is an in-process Store used by tests and by the engine's unit
// tests. It enforces the same transition and dedupe rules as PostgresStore.
type MemoryStore struct {
	mu       sync.Mutex
	keys     map[uuid.UUID]*models.APIKey
	sensors  map[string]*models.Sensor
	jobs     map[uuid.UUID]*models.Job
	inflight map[string]uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:     make(map[uuid.UUID]*models.APIKey),
		sensors:  make(map[string]*models.Sensor),
		jobs:     make(map[uuid.UUID]*models.Job),
		inflight: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return ErrDuplicateKey
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

func (s *MemoryStore) UpsertSensor(_ context.Context, sn *models.Sensor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sn
	now := time.Now().UTC()
	if prev, ok := s.sensors[sn.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.sensors[sn.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSensor(_ context.Context, id string) (*models.Sensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn, ok := s.sensors[id]
	if !ok || sn.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *sn
	return &cp, nil
}

func (s *MemoryStore) ListSensors(_ context.Context, filter SensorFilter) ([]*models.Sensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Sensor
	for _, sn := range s.sensors {
		if filter.NodeID != "" && sn.NodeID != filter.NodeID {
			continue
		}
		if sn.DeletedAt != nil && !filter.IncludeDeleted {
			continue
		}
		cp := *sn
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func inflightKey(jobType, hash string) string {
	return jobType + "/" + hash
}

func (s *MemoryStore) CreateJobIfAbsent(_ context.Context, job *models.Job) (*models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := inflightKey(job.Type, job.DedupeKeyHash)
	if id, ok := s.inflight[key]; ok {
		cp := *s.jobs[id]
		return &cp, false, nil
	}
	if _, ok := s.jobs[job.ID]; ok {
		return nil, false, ErrDuplicateKey
	}

	cp := *job
	s.jobs[job.ID] = &cp
	if !models.IsTerminalStatus(cp.Status) {
		s.inflight[key] = job.ID
	}
	out := cp
	return &out, true, nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !models.CanTransition(j.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}

	now := time.Now().UTC()
	j.Status = status
	j.UpdatedAt = now
	if status == models.JobStatusRunning {
		j.StartedAt = &now
	}
	if models.IsTerminalStatus(status) {
		j.CompletedAt = &now
		delete(s.inflight, inflightKey(j.Type, j.DedupeKeyHash))
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		j.ErrorMessage = &msg
	}
	if params.Result != nil {
		j.Result = append([]byte(nil), params.Result...)
	}
	if params.Total != nil && *params.Total > j.Progress.CandidatesTotal {
		j.Progress.CandidatesTotal = *params.Total
	}
	return nil
}

func (s *MemoryStore) UpdateJobProgress(_ context.Context, id uuid.UUID, evaluated, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusRunning {
		return ErrJobNotRunning
	}
	if evaluated > j.Progress.CandidatesEvaluated {
		j.Progress.CandidatesEvaluated = evaluated
	}
	if total > j.Progress.CandidatesTotal {
		j.Progress.CandidatesTotal = total
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ReconcileOrphanedJobs(_ context.Context, message string) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	now := time.Now().UTC()
	for _, j := range s.jobs {
		if models.IsTerminalStatus(j.Status) {
			continue
		}
		msg := message
		j.Status = models.JobStatusFailed
		j.ErrorMessage = &msg
		j.CompletedAt = &now
		j.UpdatedAt = now
		delete(s.inflight, inflightKey(j.Type, j.DedupeKeyHash))
		ids = append(ids, j.ID)
	}
	return ids, nil
}

func (s *MemoryStore) DeleteJobsCompletedBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.CompletedAt != nil && j.CompletedAt.Before(before) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

var _ Store = (*MemoryStore)(nil)
