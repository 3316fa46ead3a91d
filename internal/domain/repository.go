package domain

import "context"

// JobStore persists job records. Only the pipeline coordinator writes; reads
// may happen concurrently from any process. Update replaces the full record,
// which is sufficient because a job has a single writer at any time.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Update(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)

	// ListPending returns identifiers of jobs not in a terminal state, in
	// submission order. Used to resume work after a coordinator restart.
	ListPending(ctx context.Context) ([]string, error)

	// ClaimQueued atomically claims the oldest unclaimed pending job for the
	// given worker, returning ErrNotFound when none is available.
	ClaimQueued(ctx context.Context, workerID string) (string, error)

	// DeleteExpired removes terminal jobs older than the retention window and
	// reports how many were dropped.
	DeleteExpired(ctx context.Context, retentionDays int) (int, error)
}
