// Package pipeline contains the coordinator that owns every job state
// transition. The API process uses it to submit, inspect and cancel jobs; the
// worker process uses it to drive claimed jobs through their stages.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"adforge/internal/domain"
	"adforge/internal/events"
	"adforge/internal/governor"
	"adforge/internal/infra"
	"adforge/internal/metrics"
	"adforge/internal/stage"
)

// Options wires the coordinator's collaborators and tuning knobs.
type Options struct {
	Store     domain.JobStore
	Governor  *governor.Governor
	Executors []stage.Executor
	Publisher events.Publisher
	Metrics   *metrics.Collector
	Logger    infra.Logger

	MaxRetries   int
	RetryBackoff time.Duration
	LeaseMaxWait time.Duration
	Timeouts     map[domain.StageKind]time.Duration

	// Test hooks. Nil selects the real implementations.
	Now   func() time.Time
	NewID func() string
	Sleep func(ctx context.Context, d time.Duration) error
}

// Coordinator owns job lifecycle transitions. A job has a single driving
// goroutine at any time, so job records are mutated without further locking.
type Coordinator struct {
	store     domain.JobStore
	governor  *governor.Governor
	executors map[domain.StageKind]stage.Executor
	publisher events.Publisher
	metrics   *metrics.Collector
	logger    infra.Logger

	maxRetries   int
	retryBackoff time.Duration
	leaseMaxWait time.Duration
	timeouts     map[domain.StageKind]time.Duration

	now   func() time.Time
	newID func() string
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates the options and builds a coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline: store is required")
	}
	if opts.Governor == nil {
		return nil, fmt.Errorf("pipeline: governor is required")
	}
	if len(opts.Executors) == 0 {
		return nil, fmt.Errorf("pipeline: at least one executor is required")
	}

	executors := make(map[domain.StageKind]stage.Executor, len(opts.Executors))
	for _, exec := range opts.Executors {
		if _, dup := executors[exec.Kind()]; dup {
			return nil, fmt.Errorf("pipeline: duplicate executor for stage %s", exec.Kind())
		}
		executors[exec.Kind()] = exec
	}
	for _, kind := range []domain.StageKind{domain.StageVariant, domain.StageVideoSynth, domain.StageOverlay} {
		if _, ok := executors[kind]; !ok {
			return nil, fmt.Errorf("pipeline: missing executor for stage %s", kind)
		}
	}

	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.NewMemory()
	}

	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	leaseMaxWait := opts.LeaseMaxWait
	if leaseMaxWait <= 0 {
		leaseMaxWait = 5 * time.Minute
	}

	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	return &Coordinator{
		store:        opts.Store,
		governor:     opts.Governor,
		executors:    executors,
		publisher:    publisher,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		maxRetries:   opts.MaxRetries,
		retryBackoff: backoff,
		leaseMaxWait: leaseMaxWait,
		timeouts:     opts.Timeouts,
		now:          now,
		newID:        newID,
		sleep:        sleep,
	}, nil
}

// Submit validates the input and persists a queued job. It does no media
// work, so submission latency is independent of how many jobs are in flight.
func (c *Coordinator) Submit(ctx context.Context, input domain.SubmissionInput) (domain.JobSnapshot, error) {
	if err := validateInput(&input); err != nil {
		return domain.JobSnapshot{}, err
	}

	job := domain.NewJob(c.newID(), input, c.now())
	if err := c.store.Create(ctx, job); err != nil {
		return domain.JobSnapshot{}, fmt.Errorf("create job: %w", err)
	}

	c.metrics.JobSubmitted()
	c.publish(ctx, events.Event{Type: events.TypeJobSubmitted, JobID: job.ID})
	c.logger.Info().
		Str("job_id", job.ID).
		Str("quality", string(input.Quality)).
		Bool("publish", input.Publish).
		Msg("job submitted")
	return job.Snapshot(), nil
}

// Status returns the client-visible view of a job.
func (c *Coordinator) Status(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	return job.Snapshot(), nil
}

// Cancel requests job cancellation. A queued job is cancelled immediately; a
// job being driven moves to cancelling and the driver finalizes it after the
// in-flight attempt completes. Cancelling a finished job is an error.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	switch {
	case job.State.Terminal():
		return domain.JobSnapshot{}, fmt.Errorf("%w: %s", domain.ErrJobFinished, job.State)
	case job.State == domain.JobStateCancelling:
		return job.Snapshot(), nil
	case job.State == domain.JobStateQueued:
		job.State = domain.JobStateCancelled
		job.UpdatedAt = c.now()
		if err := c.store.Update(ctx, job); err != nil {
			return domain.JobSnapshot{}, fmt.Errorf("cancel job: %w", err)
		}
		c.metrics.JobCancelled()
		c.publish(ctx, events.Event{Type: events.TypeJobCancelled, JobID: job.ID})
	default:
		job.State = domain.JobStateCancelling
		job.UpdatedAt = c.now()
		if err := c.store.Update(ctx, job); err != nil {
			return domain.JobSnapshot{}, fmt.Errorf("cancel job: %w", err)
		}
	}
	c.logger.Info().Str("job_id", job.ID).Str("state", string(job.State)).Msg("cancellation requested")
	return job.Snapshot(), nil
}

// plan returns the stage order for a job.
func (c *Coordinator) plan(job *domain.Job) []domain.StageKind {
	kinds := []domain.StageKind{domain.StageVariant, domain.StageVideoSynth, domain.StageOverlay}
	if job.Input.Publish {
		if _, ok := c.executors[domain.StagePublish]; ok {
			kinds = append(kinds, domain.StagePublish)
		}
	}
	return kinds
}

// driveResult classifies how a stage run ended.
type driveResult int

const (
	driveContinue driveResult = iota
	driveHalted
)

// Drive runs a claimed job to a terminal state. It returns an error only for
// infrastructure failures (store outage, worker shutdown); a job that fails
// or is cancelled by policy terminates cleanly with a nil error.
func (c *Coordinator) Drive(ctx context.Context, jobID string) error {
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.State.Terminal() {
		return nil
	}
	if job.State == domain.JobStateCancelling {
		return c.finalizeCancelled(ctx, job)
	}

	for _, kind := range c.plan(job) {
		if rec := job.Stage(kind); rec != nil && rec.Status == domain.StageStatusSucceeded {
			continue
		}
		result, err := c.runStage(ctx, job, kind)
		if err != nil {
			return err
		}
		if result == driveHalted {
			return nil
		}
	}

	cancelled, err := c.cancellationRequested(ctx, job)
	if err != nil {
		return err
	}
	if cancelled {
		if job.State == domain.JobStateCancelled {
			return nil
		}
		return c.finalizeCancelled(ctx, job)
	}

	job.State = domain.JobStateCompleted
	job.UpdatedAt = c.now()
	if err := c.store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist completed job %s: %w", job.ID, err)
	}
	c.metrics.JobCompleted()
	c.publish(ctx, events.Event{Type: events.TypeJobCompleted, JobID: job.ID})
	c.logger.Info().Str("job_id", job.ID).Int("artifacts", len(job.Artifacts)).Msg("job completed")
	return nil
}

// runStage drives one stage through its attempts until it succeeds, exhausts
// its retries, or the job is cancelled.
func (c *Coordinator) runStage(ctx context.Context, job *domain.Job, kind domain.StageKind) (driveResult, error) {
	exec, ok := c.executors[kind]
	if !ok {
		return driveHalted, fmt.Errorf("no executor for stage %s", kind)
	}

	rec := job.Stage(kind)
	if rec == nil {
		job.Stages = append(job.Stages, domain.StageRecord{
			Kind:      kind,
			Status:    domain.StageStatusPending,
			StartedAt: c.now(),
		})
		rec = &job.Stages[len(job.Stages)-1]
	}

	maxAttempts := c.maxRetries + 1
	for {
		cancelled, err := c.cancellationRequested(ctx, job)
		if err != nil {
			return driveHalted, err
		}
		if cancelled {
			if job.State == domain.JobStateCancelled {
				return driveHalted, nil
			}
			return driveHalted, c.finalizeCancelled(ctx, job)
		}

		rec.Attempts++
		rec.Status = domain.StageStatusRunning
		rec.Error = ""
		job.State = domain.JobStateRunning
		job.UpdatedAt = c.now()
		if err := c.store.Update(ctx, job); err != nil {
			return driveHalted, fmt.Errorf("persist stage start: %w", err)
		}
		c.publish(ctx, events.Event{Type: events.TypeStageStarted, JobID: job.ID, Stage: kind, Attempt: rec.Attempts})

		artifacts, execErr := c.executeAttempt(ctx, job, exec)
		if execErr == nil {
			ended := c.now()
			rec.Status = domain.StageStatusSucceeded
			rec.EndedAt = &ended
			job.Artifacts = append(job.Artifacts, artifacts...)
			job.UpdatedAt = ended
			// A cancel written by the API while the attempt ran must not be
			// overwritten by this update.
			cancelled, err := c.cancellationRequested(ctx, job)
			if err != nil {
				return driveHalted, err
			}
			if err := c.store.Update(ctx, job); err != nil {
				return driveHalted, fmt.Errorf("persist stage result: %w", err)
			}
			c.publish(ctx, events.Event{Type: events.TypeStageSucceeded, JobID: job.ID, Stage: kind, Attempt: rec.Attempts})
			if cancelled {
				if job.State == domain.JobStateCancelled {
					return driveHalted, nil
				}
				return driveHalted, c.finalizeCancelled(ctx, job)
			}
			return driveContinue, nil
		}

		// Worker shutdown leaves the record as-is; recovery re-runs the
		// attempt after restart.
		if ctx.Err() != nil {
			return driveHalted, ctx.Err()
		}

		stageErr := domain.NewStageError(kind, execErr)
		c.logger.Warn().
			Err(execErr).
			Str("job_id", job.ID).
			Str("stage", string(kind)).
			Int("attempt", rec.Attempts).
			Msg("stage attempt failed")
		c.publish(ctx, events.Event{Type: events.TypeStageFailed, JobID: job.ID, Stage: kind, Attempt: rec.Attempts, Detail: execErr.Error()})

		if rec.Attempts >= maxAttempts {
			ended := c.now()
			rec.Status = domain.StageStatusFailed
			rec.Error = execErr.Error()
			rec.EndedAt = &ended
			job.UpdatedAt = ended
			cancelled, err := c.cancellationRequested(ctx, job)
			if err != nil {
				return driveHalted, err
			}
			if cancelled {
				// Cancellation wins: the stage record keeps the failure
				// detail, the job finalizes as cancelled.
				if err := c.store.Update(ctx, job); err != nil {
					return driveHalted, fmt.Errorf("persist failed stage: %w", err)
				}
				if job.State == domain.JobStateCancelled {
					return driveHalted, nil
				}
				return driveHalted, c.finalizeCancelled(ctx, job)
			}
			job.State = domain.JobStateFailed
			job.Error = stageErr.Error()
			if err := c.store.Update(ctx, job); err != nil {
				return driveHalted, fmt.Errorf("persist failed job: %w", err)
			}
			c.metrics.JobFailed()
			c.publish(ctx, events.Event{Type: events.TypeJobFailed, JobID: job.ID, Stage: kind, Detail: stageErr.Error()})
			return driveHalted, nil
		}

		rec.Status = domain.StageStatusRetrying
		rec.Error = execErr.Error()
		job.UpdatedAt = c.now()
		cancelled, err = c.cancellationRequested(ctx, job)
		if err != nil {
			return driveHalted, err
		}
		if cancelled {
			if updErr := c.store.Update(ctx, job); updErr != nil {
				return driveHalted, fmt.Errorf("persist retrying job: %w", updErr)
			}
			if job.State == domain.JobStateCancelled {
				return driveHalted, nil
			}
			return driveHalted, c.finalizeCancelled(ctx, job)
		}
		job.State = domain.JobStateRetrying
		if err := c.store.Update(ctx, job); err != nil {
			return driveHalted, fmt.Errorf("persist retrying job: %w", err)
		}
		c.metrics.StageRetried(string(kind))

		if err := c.sleep(ctx, c.backoffFor(rec.Attempts)); err != nil {
			return driveHalted, err
		}
	}
}

// executeAttempt runs one attempt of exec, acquiring and releasing a GPU
// lease around it when required. A lease wait timeout counts as an attempt
// failure so FIFO fairness is preserved without parking the job forever.
func (c *Coordinator) executeAttempt(ctx context.Context, job *domain.Job, exec stage.Executor) ([]domain.Artifact, error) {
	var lease *governor.Lease
	if exec.RequiresGPU() {
		waitStart := c.now()
		leaseCtx, cancel := context.WithTimeout(ctx, c.leaseMaxWait)
		acquired, err := c.governor.Acquire(leaseCtx, job.ID)
		cancel()
		c.metrics.ObserveGPULeaseWait(c.now().Sub(waitStart))
		if err != nil {
			c.metrics.StageExecuted(string(exec.Kind()), "lease_timeout", c.now().Sub(waitStart))
			return nil, err
		}
		lease = acquired
	}

	started := c.now()
	artifacts, err := stage.Run(ctx, c.timeouts[exec.Kind()], exec, stage.Context{
		JobID:          job.ID,
		Product:        job.Input.Product,
		Quality:        job.Input.Quality,
		Params:         job.Input.Quality.Params(),
		SourceImageKey: job.Input.SourceImageKey,
		Locale:         job.Input.Locale,
	}, job.Artifacts)
	if lease != nil {
		lease.Release()
	}

	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	c.metrics.StageExecuted(string(exec.Kind()), status, c.now().Sub(started))
	return artifacts, err
}

// cancellationRequested reloads the persisted state to observe cancellations
// issued from the API process.
func (c *Coordinator) cancellationRequested(ctx context.Context, job *domain.Job) (bool, error) {
	stored, err := c.store.Get(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("refresh job %s: %w", job.ID, err)
	}
	if stored.State == domain.JobStateCancelling || stored.State == domain.JobStateCancelled {
		job.State = stored.State
		return true, nil
	}
	return false, nil
}

// finalizeCancelled moves a cancelling job to cancelled, keeping every
// artifact produced so far.
func (c *Coordinator) finalizeCancelled(ctx context.Context, job *domain.Job) error {
	job.State = domain.JobStateCancelled
	job.UpdatedAt = c.now()
	if err := c.store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist cancelled job %s: %w", job.ID, err)
	}
	c.metrics.JobCancelled()
	c.publish(ctx, events.Event{Type: events.TypeJobCancelled, JobID: job.ID})
	c.logger.Info().Str("job_id", job.ID).Msg("job cancelled")
	return nil
}

// backoffFor returns the delay before the next attempt, doubling per failure.
func (c *Coordinator) backoffFor(failedAttempts int) time.Duration {
	delay := c.retryBackoff
	for i := 1; i < failedAttempts; i++ {
		delay *= 2
	}
	return delay
}

func (c *Coordinator) publish(ctx context.Context, event events.Event) {
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Warn().Err(err).Str("type", string(event.Type)).Msg("event publish failed")
	}
}

func validateInput(input *domain.SubmissionInput) error {
	if input.SourceImageKey == "" {
		return fmt.Errorf("%w: source image is required", domain.ErrInvalidInput)
	}
	if input.Product.Name == "" {
		return fmt.Errorf("%w: product name is required", domain.ErrInvalidInput)
	}
	if input.Publish && input.Product.URL == "" {
		return fmt.Errorf("%w: product url is required when publishing", domain.ErrInvalidInput)
	}
	if input.Quality == "" {
		input.Quality = domain.QualityFast
	} else if _, ok := domain.ParseQualityTier(string(input.Quality)); !ok {
		return fmt.Errorf("%w: unknown quality tier %q", domain.ErrInvalidInput, input.Quality)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
