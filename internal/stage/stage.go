// Package stage defines the executor contract the pipeline coordinator
// drives. Executors are pure functions from (job context, prior artifacts) to
// new artifacts; the concrete media work lives behind them in providers.
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adforge/internal/domain"
)

// Context carries the job-scoped inputs an executor needs.
type Context struct {
	JobID          string
	Product        domain.Product
	Quality        domain.QualityTier
	Params         domain.TierParams
	SourceImageKey string
	Locale         string
}

// Executor runs one pipeline stage. Implementations must honor ctx
// cancellation so an externally imposed timeout cannot leak a resource lease.
type Executor interface {
	Kind() domain.StageKind
	RequiresGPU() bool
	Execute(ctx context.Context, sc Context, prior []domain.Artifact) ([]domain.Artifact, error)
}

// Run executes exec with the given timeout. The executor observes the
// deadline through its context; if it overruns anyway, Run returns
// ErrExecutionTimeout immediately and the stray goroutine's result is
// discarded once it finishes.
func Run(ctx context.Context, timeout time.Duration, exec Executor, sc Context, prior []domain.Artifact) ([]domain.Artifact, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		artifacts []domain.Artifact
		err       error
	}
	done := make(chan result, 1)
	go func() {
		artifacts, err := exec.Execute(runCtx, sc, prior)
		done <- result{artifacts: artifacts, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return nil, timeoutError(exec.Kind(), timeout)
			}
			return nil, res.err
		}
		return res.artifacts, nil
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, timeoutError(exec.Kind(), timeout)
		}
		return nil, runCtx.Err()
	}
}

func timeoutError(kind domain.StageKind, timeout time.Duration) error {
	return fmt.Errorf("%w: %s exceeded %s", domain.ErrExecutionTimeout, kind, timeout)
}
