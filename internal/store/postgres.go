package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

const apiKeyColumns = `id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Sensors ---

const sensorColumns = `id, node_id, name, unit, kind, interval_seconds, analysis_eligible, deleted_at, created_at, updated_at`

func scanSensor(row pgx.Row) (*models.Sensor, error) {
	var sn models.Sensor
	err := row.Scan(&sn.ID, &sn.NodeID, &sn.Name, &sn.Unit, &sn.Kind, &sn.IntervalSeconds,
		&sn.AnalysisEligible, &sn.DeletedAt, &sn.CreatedAt, &sn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sn, nil
}

func (s *PostgresStore) UpsertSensor(ctx context.Context, sn *models.Sensor) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sensors (id, node_id, name, unit, kind, interval_seconds, analysis_eligible, deleted_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   node_id = EXCLUDED.node_id,
		   name = EXCLUDED.name,
		   unit = EXCLUDED.unit,
		   kind = EXCLUDED.kind,
		   interval_seconds = EXCLUDED.interval_seconds,
		   analysis_eligible = EXCLUDED.analysis_eligible,
		   deleted_at = EXCLUDED.deleted_at,
		   updated_at = EXCLUDED.updated_at`,
		sn.ID, sn.NodeID, sn.Name, sn.Unit, sn.Kind, sn.IntervalSeconds, sn.AnalysisEligible, sn.DeletedAt, now)
	if err != nil {
		return fmt.Errorf("upsert sensor: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSensor(ctx context.Context, id string) (*models.Sensor, error) {
	sn, err := scanSensor(s.pool.QueryRow(ctx,
		`SELECT `+sensorColumns+` FROM sensors WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sensor: %w", err)
	}
	return sn, nil
}

func (s *PostgresStore) ListSensors(ctx context.Context, filter SensorFilter) ([]*models.Sensor, error) {
	query := `SELECT ` + sensorColumns + ` FROM sensors
		WHERE ($1 = '' OR node_id = $1) AND ($2 OR deleted_at IS NULL)
		ORDER BY id`
	rows, err := s.pool.Query(ctx, query, filter.NodeID, filter.IncludeDeleted)
	if err != nil {
		return nil, fmt.Errorf("list sensors: %w", err)
	}
	defer rows.Close()

	var sensors []*models.Sensor
	for rows.Next() {
		sn, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sensor: %w", err)
		}
		sensors = append(sensors, sn)
	}
	return sensors, rows.Err()
}

// --- Jobs ---

const jobColumns = `id, job_type, dedupe_key_hash, params, status, candidates_evaluated, candidates_total,
	result, error_message, created_by, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var result []byte
	err := row.Scan(&j.ID, &j.Type, &j.DedupeKeyHash, &j.Params, &j.Status,
		&j.Progress.CandidatesEvaluated, &j.Progress.CandidatesTotal,
		&result, &j.ErrorMessage, &j.CreatedBy, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(result) > 0 {
		j.Result = result
	}
	return &j, nil
}

func (s *PostgresStore) CreateJobIfAbsent(ctx context.Context, job *models.Job) (*models.Job, bool, error) {
	// A conflicting job may finish between the insert and the lookup, so retry a few times.
	for attempt := 0; attempt < 3; attempt++ {
		created, err := scanJob(s.pool.QueryRow(ctx,
			`INSERT INTO analysis_jobs (id, job_type, dedupe_key_hash, params, status, created_by, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (job_type, dedupe_key_hash) WHERE status IN ('queued', 'running') DO NOTHING
			 RETURNING `+jobColumns,
			job.ID, job.Type, job.DedupeKeyHash, []byte(job.Params), job.Status, job.CreatedBy, job.CreatedAt, job.UpdatedAt))
		if err == nil {
			return created, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("create job: %w", err)
		}

		existing, err := scanJob(s.pool.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM analysis_jobs
			 WHERE job_type = $1 AND dedupe_key_hash = $2 AND status IN ('queued', 'running')`,
			job.Type, job.DedupeKeyHash))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("find in-flight job: %w", err)
		}
	}
	return nil, false, fmt.Errorf("create job: in-flight job with hash %s kept changing", job.DedupeKeyHash)
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// UpdateJobStatus moves a job to status if the transition is allowed from its
// current status. The check and the write are one statement, so concurrent
// writers cannot both succeed.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	sources := models.TransitionSources(status)
	if len(sources) == 0 {
		return fmt.Errorf("%w: no status may move to %s", ErrInvalidTransition, status)
	}

	now := time.Now().UTC()
	query := `UPDATE analysis_jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now, sources}
	argIdx := 5

	if status == models.JobStatusRunning {
		query += ", started_at = $3"
	}
	if models.IsTerminalStatus(status) {
		query += ", completed_at = $3"
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Result != nil {
		query += fmt.Sprintf(", result = $%d", argIdx)
		args = append(args, []byte(params.Result))
		argIdx++
	}
	if params.Total != nil {
		query += fmt.Sprintf(", candidates_total = GREATEST(candidates_total, $%d)", argIdx)
		args = append(args, *params.Total)
		argIdx++
	}
	query += " WHERE id = $1 AND status = ANY($4)"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM analysis_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, evaluated, total int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET
		   candidates_evaluated = GREATEST(candidates_evaluated, $2),
		   candidates_total = GREATEST(candidates_total, $3),
		   updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`, id, evaluated, total)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotRunning
	}
	return nil
}

// ReconcileOrphanedJobs fails every job still marked queued or running and
// returns their ids. It is called once at startup, before the engine accepts
// work.
func (s *PostgresStore) ReconcileOrphanedJobs(ctx context.Context, message string) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE analysis_jobs SET status = 'failed', error_message = $1, completed_at = NOW(), updated_at = NOW()
		 WHERE status IN ('queued', 'running')
		 RETURNING id`, message)
	if err != nil {
		return nil, fmt.Errorf("reconcile orphaned jobs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("reconcile orphaned jobs: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) DeleteJobsCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM analysis_jobs WHERE completed_at IS NOT NULL AND completed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
