package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"adforge/internal/domain"
	"adforge/internal/infra"
)

// Postgres persists jobs one row per job, with stage records and artifact
// references embedded as JSONB. Full-record replace on Update is acceptable
// because a job has exactly one writer at any time.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a job store backed by PostgreSQL.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS ad_jobs (
    id            uuid PRIMARY KEY,
    state         text NOT NULL,
    input         jsonb NOT NULL,
    stages        jsonb NOT NULL DEFAULT '[]',
    artifacts     jsonb NOT NULL DEFAULT '[]',
    error_message text NOT NULL DEFAULT '',
    claimed_by    text,
    claimed_at    timestamptz,
    created_at    timestamptz NOT NULL,
    updated_at    timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ad_jobs_pending
    ON ad_jobs (created_at)
    WHERE state NOT IN ('completed', 'failed', 'cancelled');
`

// EnsureSchema creates the jobs table and its pending-scan index when absent.
func (r *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *Postgres) Create(ctx context.Context, job *domain.Job) error {
	input, stages, artifacts, err := encodeJob(job)
	if err != nil {
		return err
	}
	query := `
INSERT INTO ad_jobs (id, state, input, stages, artifacts, error_message, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.State,
		input,
		stages,
		artifacts,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

func (r *Postgres) Update(ctx context.Context, job *domain.Job) error {
	input, stages, artifacts, err := encodeJob(job)
	if err != nil {
		return err
	}
	// Terminal updates drop the worker claim so retention cleanup and
	// later inspection see an unowned record.
	query := `
UPDATE ad_jobs
SET state = $2,
    input = $3,
    stages = $4,
    artifacts = $5,
    error_message = $6,
    updated_at = $7,
    claimed_by = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN NULL ELSE claimed_by END
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query,
		job.ID,
		job.State,
		input,
		stages,
		artifacts,
		job.Error,
		job.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Postgres) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT id, state, input, stages, artifacts, error_message, created_at, updated_at
FROM ad_jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	var (
		job                    domain.Job
		input, stages, artsRaw []byte
	)
	if err := row.Scan(&job.ID, &job.State, &input, &stages, &artsRaw, &job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := decodeJob(&job, input, stages, artsRaw); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *Postgres) ListPending(ctx context.Context) ([]string, error) {
	query := `
SELECT id
FROM ad_jobs
WHERE state NOT IN ('completed', 'failed', 'cancelled')
ORDER BY created_at ASC;
`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimQueued claims the oldest unclaimed pending job using SKIP LOCKED so
// concurrent workers never double-claim.
func (r *Postgres) ClaimQueued(ctx context.Context, workerID string) (string, error) {
	query := `
WITH next_job AS (
    SELECT id
    FROM ad_jobs
    WHERE state NOT IN ('completed', 'failed', 'cancelled')
      AND claimed_by IS NULL
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
UPDATE ad_jobs
SET claimed_by = $1, claimed_at = now()
WHERE id IN (SELECT id FROM next_job)
RETURNING id;
`
	var id string
	if err := r.pool.QueryRow(ctx, query, workerID).Scan(&id); err != nil {
		if infra.IsNoRows(err) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return id, nil
}

// ResetClaims releases every claim held on non-terminal jobs. Called at
// worker startup so jobs orphaned by a crash become claimable again.
func (r *Postgres) ResetClaims(ctx context.Context) error {
	query := `
UPDATE ad_jobs
SET claimed_by = NULL, claimed_at = NULL
WHERE state NOT IN ('completed', 'failed', 'cancelled');
`
	_, err := r.pool.Exec(ctx, query)
	return err
}

func (r *Postgres) DeleteExpired(ctx context.Context, retentionDays int) (int, error) {
	query := `
DELETE FROM ad_jobs
WHERE state IN ('completed', 'failed', 'cancelled')
  AND updated_at < now() - make_interval(days => $1);
`
	tag, err := r.pool.Exec(ctx, query, retentionDays)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func encodeJob(job *domain.Job) (input, stages, artifacts []byte, err error) {
	if input, err = json.Marshal(job.Input); err != nil {
		return nil, nil, nil, fmt.Errorf("encode input: %w", err)
	}
	if job.Stages == nil {
		stages = []byte("[]")
	} else if stages, err = json.Marshal(job.Stages); err != nil {
		return nil, nil, nil, fmt.Errorf("encode stages: %w", err)
	}
	if job.Artifacts == nil {
		artifacts = []byte("[]")
	} else if artifacts, err = json.Marshal(job.Artifacts); err != nil {
		return nil, nil, nil, fmt.Errorf("encode artifacts: %w", err)
	}
	return input, stages, artifacts, nil
}

func decodeJob(job *domain.Job, input, stages, artifacts []byte) error {
	if err := json.Unmarshal(input, &job.Input); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	if err := json.Unmarshal(stages, &job.Stages); err != nil {
		return fmt.Errorf("decode stages: %w", err)
	}
	if err := json.Unmarshal(artifacts, &job.Artifacts); err != nil {
		return fmt.Errorf("decode artifacts: %w", err)
	}
	return nil
}

var _ domain.JobStore = (*Postgres)(nil)
