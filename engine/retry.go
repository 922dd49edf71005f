package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"convertd/models"
)

// Retry re-admits a failed job. It rejects jobs in any other state and
// jobs that exhausted their retry budget. On success the job is back in
// pending with progress, error and attempt timestamps reset, its retry
// counter incremented, and a new dispatch spawned.
func (e *Engine) Retry(ctx context.Context, jobID uuid.UUID) error {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status != models.StatusFailed {
		return fmt.Errorf("%w: only failed jobs can be retried, status is %s", ErrInvalidTransition, job.Status)
	}
	if job.RetryCount >= e.cfg.MaxRetries {
		return fmt.Errorf("%w: %d/%d attempts used", ErrRetryLimitReached, job.RetryCount, e.cfg.MaxRetries)
	}

	applied, err := e.store.ResetForRetry(ctx, jobID)
	if err != nil {
		return fmt.Errorf("resetting job for retry: %w", err)
	}
	if !applied {
		// Lost a race with another transition since the read above.
		return fmt.Errorf("%w: job is no longer failed", ErrInvalidTransition)
	}

	e.log.Infof("job %s: retry %d/%d queued", jobID, job.RetryCount+1, e.cfg.MaxRetries)
	e.hub.Publish(models.NewProgressUpdate(jobID, models.StatusPending, 0, strPtr("Queued for retry...")))

	e.spawn(func() { e.run(jobID) })
	return nil
}

// Cancel marks a pending or processing job cancelled and publishes the
// terminal update immediately. An in-flight conversion is never
// interrupted; its later writes hit the transition guard and vanish, so
// the cancelled record stays authoritative.
func (e *Engine) Cancel(ctx context.Context, jobID uuid.UUID) error {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot cancel a %s job", ErrInvalidTransition, job.Status)
	}

	applied, err := e.store.Cancel(ctx, jobID)
	if err != nil {
		return fmt.Errorf("cancelling job: %w", err)
	}
	if !applied {
		return fmt.Errorf("%w: job reached a terminal state first", ErrInvalidTransition)
	}

	e.log.Infof("job %s: cancelled", jobID)
	e.hub.Publish(models.NewProgressUpdate(jobID, models.StatusCancelled, job.Progress, strPtr("Job cancelled")))
	e.mirrorStatus(ctx, jobID, models.StatusCancelled, nil)
	return nil
}

// Delete removes the job record together with its input and result
// artifacts. Legal from any state.
func (e *Engine) Delete(ctx context.Context, jobID uuid.UUID) error {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	e.removeArtifacts(job)

	deleted, err := e.store.Delete(ctx, jobID)
	if err != nil {
		return fmt.Errorf("deleting job record: %w", err)
	}
	if !deleted {
		return ErrJobNotFound
	}
	return nil
}

// removeArtifacts deletes the job's temp directory and any result file
// that was written outside of it.
func (e *Engine) removeArtifacts(job *models.Job) {
	if err := os.RemoveAll(e.jobDir(job.ID)); err != nil {
		e.log.Warnf("job %s: removing job dir: %v", job.ID, err)
	}
	if job.ResultPath != nil {
		os.Remove(*job.ResultPath)
	}
}
