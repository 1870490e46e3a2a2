package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kiranshivaraju/fleetsignal/internal/analysis"
	"github.com/kiranshivaraju/fleetsignal/internal/cache"
	"github.com/kiranshivaraju/fleetsignal/internal/metrics"
	"github.com/kiranshivaraju/fleetsignal/internal/store"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// Config tunes the engine.
type Config struct {
	Workers         int
	StatusTTL       time.Duration
	PreviewTimeout  time.Duration
	PreviewCacheTTL time.Duration
}

// Engine submits, schedules, tracks and cancels analysis jobs. The job table
// is the source of truth; the cache only mirrors status for cheap polling.
type Engine struct {
	deps       Deps
	cache      cache.Cache
	cfg        Config
	algorithms map[string]Algorithm
	sem        *semaphore.Weighted

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	running  map[uuid.UUID]context.CancelFunc
	shutdown bool
}

// NewEngine creates an Engine with the built-in algorithms registered.
func NewEngine(deps Deps, ca cache.Cache, cfg Config) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = 30 * time.Minute
	}
	ctx, stop := context.WithCancel(context.Background())
	e := &Engine{
		deps:       deps,
		cache:      ca,
		cfg:        cfg,
		algorithms: make(map[string]Algorithm),
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
		baseCtx:    ctx,
		stop:       stop,
		running:    make(map[uuid.UUID]context.CancelFunc),
	}
	for _, a := range DefaultAlgorithms(deps) {
		e.Register(a)
	}
	return e
}

// Register adds or replaces the algorithm for its job type.
func (e *Engine) Register(a Algorithm) {
	e.algorithms[a.Type()] = a
}

// Types lists the registered job types in name order.
func (e *Engine) Types() []string {
	out := make([]string, 0, len(e.algorithms))
	for t := range e.algorithms {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) prepare(jobType string, raw json.RawMessage, preview bool) (Task, string, error) {
	alg, ok := e.algorithms[jobType]
	if !ok {
		return nil, "", &analysis.ValidationError{Err: fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)}
	}
	task, err := alg.Prepare(raw, preview)
	if err != nil {
		return nil, "", err
	}
	hash, err := DedupeHash(jobType, task.Params())
	if err != nil {
		return nil, "", err
	}
	return task, hash, nil
}

// Submit validates params and enqueues a job. With dedupe set, a queued or
// running job with identical normalized params is returned instead and
// created is false.
func (e *Engine) Submit(ctx context.Context, p models.Principal, jobType string, raw json.RawMessage, dedupe bool) (*models.Job, bool, error) {
	if !p.Can(models.ScopeRun) {
		return nil, false, ErrForbidden
	}
	e.mu.Lock()
	closing := e.shutdown
	e.mu.Unlock()
	if closing {
		return nil, false, ErrShuttingDown
	}

	task, hash, err := e.prepare(jobType, raw, false)
	if err != nil {
		return nil, false, err
	}
	params, err := json.Marshal(task.Params())
	if err != nil {
		return nil, false, fmt.Errorf("encode params: %w", err)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:            uuid.New(),
		Type:          jobType,
		DedupeKeyHash: hash,
		Params:        params,
		Status:        models.JobStatusQueued,
		CreatedBy:     p.Name,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !dedupe {
		job.DedupeKeyHash = uniqueHash(hash, job.ID.String())
	}

	got, created, err := e.deps.Store.CreateJobIfAbsent(ctx, job)
	if err != nil {
		return nil, false, fmt.Errorf("creating job: %w", err)
	}
	if !created {
		slog.Info("duplicate submission joined in-flight job", "job_id", got.ID, "job_type", jobType)
		return got, false, nil
	}

	_ = e.cache.SetJobStatus(ctx, got.ID, got.Status, e.cfg.StatusTTL)

	jobCtx, cancel := context.WithCancel(e.baseCtx)
	e.mu.Lock()
	e.running[got.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.execute(jobCtx, got, task)

	slog.Info("job submitted", "job_id", got.ID, "job_type", jobType, "created_by", p.Name)
	return got, true, nil
}

// execute runs one job to a terminal state. It recovers from panics and
// never moves a job out of a terminal state.
func (e *Engine) execute(ctx context.Context, job *models.Job, task Task) {
	defer e.wg.Done()
	defer e.forget(job.ID)
	logger := slog.With("job_id", job.ID, "job_type", job.Type)
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in job", "error", r, "stack", string(debug.Stack()))
			e.finish(job, models.JobStatusFailed, started, store.WithErrorMessage(fmt.Sprintf("panic: %v", r)))
		}
	}()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.stopped(job, started)
		return
	}
	defer e.sem.Release(1)

	if err := e.deps.Store.UpdateJobStatus(context.Background(), job.ID, models.JobStatusRunning); err != nil {
		if !errors.Is(err, store.ErrInvalidTransition) {
			logger.Error("failed to start job", "error", err)
		}
		return
	}
	_ = e.cache.SetJobStatus(context.Background(), job.ID, models.JobStatusRunning, e.cfg.StatusTTL)
	// A cancel landing between the two writes above would be masked by the
	// running mirror.
	if status := e.syncStatus(job.ID); status != models.JobStatusRunning {
		logger.Info("job stopped before start", "status", status)
		return
	}
	logger.Info("job started")

	run := newRun(job.ID, job.Type, e.deps.Store, e.budgetFor(task))
	result, err := task.Compute(ctx, run)

	switch {
	case err == nil:
		encoded, encErr := json.Marshal(result)
		if encErr != nil {
			e.finish(job, models.JobStatusFailed, started, store.WithErrorMessage(fmt.Sprintf("encode result: %v", encErr)))
			return
		}
		e.finish(job, models.JobStatusCompleted, started, store.WithResult(encoded))
	case errors.Is(err, analysis.ErrCancelled):
		e.stopped(job, started)
	default:
		logger.Warn("job failed", "error", err)
		e.finish(job, models.JobStatusFailed, started, store.WithErrorMessage(err.Error()))
	}
}

// stopped settles a job whose context ended: cancelled on request, failed
// when the engine is shutting down.
func (e *Engine) stopped(job *models.Job, started time.Time) {
	e.mu.Lock()
	closing := e.shutdown
	e.mu.Unlock()
	if closing {
		e.finish(job, models.JobStatusFailed, started, store.WithErrorMessage(ErrShuttingDown.Error()))
		return
	}
	e.finish(job, models.JobStatusCancelled, started)
}

// finish persists a terminal status. The store rejects the write when the job
// already reached a terminal state, so a cancel acknowledged earlier wins.
func (e *Engine) finish(job *models.Job, status string, started time.Time, opts ...store.JobUpdateOption) {
	ctx := context.Background()
	err := e.deps.Store.UpdateJobStatus(ctx, job.ID, status, opts...)
	if errors.Is(err, store.ErrInvalidTransition) {
		e.syncStatus(job.ID)
		return
	}
	if err != nil {
		slog.Error("failed to persist job status", "job_id", job.ID, "status", status, "error", err)
		return
	}
	_ = e.cache.SetJobStatus(ctx, job.ID, status, e.cfg.StatusTTL)
	metrics.ObserveJob(job.Type, status, time.Since(started))
	slog.Info("job finished", "job_id", job.ID, "job_type", job.Type, "status", status,
		"duration_ms", time.Since(started).Milliseconds())
}

// syncStatus copies a job's stored status into the mirror unless it is still
// running, and returns it. A running row is left alone so a concurrent
// terminal write to the mirror is never overwritten.
func (e *Engine) syncStatus(id uuid.UUID) string {
	ctx := context.Background()
	job, err := e.deps.Store.GetJob(ctx, id)
	if err != nil {
		slog.Warn("failed to re-read job status", "job_id", id, "error", err)
		_ = e.cache.Delete(ctx, cache.JobStatusKey(id))
		return ""
	}
	if job.Status != models.JobStatusRunning {
		_ = e.cache.SetJobStatus(ctx, id, job.Status, e.cfg.StatusTTL)
	}
	return job.Status
}

func (e *Engine) budgetFor(task Task) time.Duration {
	if b, ok := task.Params().(interface {
		budget(analysis.Policy) time.Duration
	}); ok {
		return b.budget(e.deps.Policy)
	}
	return e.deps.Policy.ComputeBudget
}

func (e *Engine) forget(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.running[id]; ok {
		cancel()
		delete(e.running, id)
	}
}

// Get returns a job with its progress and, once terminal, its result or error.
func (e *Engine) Get(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Job, error) {
	if !p.Can(models.ScopeView) {
		return nil, ErrForbidden
	}
	job, err := e.deps.Store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Status returns a job's status, preferring the cached mirror.
func (e *Engine) Status(ctx context.Context, p models.Principal, id uuid.UUID) (string, error) {
	if !p.Can(models.ScopeView) {
		return "", ErrForbidden
	}
	if status, found, err := e.cache.GetJobStatus(ctx, id); err == nil && found {
		return status, nil
	}
	job, err := e.Get(ctx, p, id)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// Cancel moves a queued or running job to cancelled and signals its worker.
// Cancelling a terminal job is a no-op that returns the job unchanged.
func (e *Engine) Cancel(ctx context.Context, p models.Principal, id uuid.UUID) (*models.Job, error) {
	if !p.Can(models.ScopeRun) {
		return nil, ErrForbidden
	}
	err := e.deps.Store.UpdateJobStatus(ctx, id, models.JobStatusCancelled)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, store.ErrInvalidTransition):
		// already terminal
	case err != nil:
		return nil, fmt.Errorf("cancel job: %w", err)
	default:
		_ = e.cache.SetJobStatus(ctx, id, models.JobStatusCancelled, e.cfg.StatusTTL)
		slog.Info("job cancelled", "job_id", id, "by", p.Name)
	}

	e.mu.Lock()
	if cancel, ok := e.running[id]; ok {
		cancel()
	}
	e.mu.Unlock()

	return e.Get(ctx, p, id)
}

// Reconcile fails jobs left queued or running by a previous process and
// rewrites their mirrored status, which outlives the process. Call it once at
// startup before accepting submissions.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	ids, err := e.deps.Store.ReconcileOrphanedJobs(ctx, "interrupted by server restart")
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := e.cache.SetJobStatus(ctx, id, models.JobStatusFailed, e.cfg.StatusTTL); err != nil {
			slog.Warn("failed to update mirrored status", "job_id", id, "error", err)
		}
	}
	if len(ids) > 0 {
		slog.Warn("reconciled orphaned jobs", "count", len(ids))
	}
	return len(ids), nil
}

// Shutdown stops accepting work, cancels running jobs and waits for their
// workers to record a terminal status or for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.shutdown = true
	e.mu.Unlock()
	e.stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
