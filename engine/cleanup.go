package engine

import (
	"context"
	"time"

	"convertd/models"
)

// CleanupLoop periodically sweeps terminal jobs past the retention
// window, completed jobs past their expiry horizon, and processing jobs
// whose attempt ran past the timeout. It returns when ctx is done.
func (e *Engine) CleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()

	e.log.Info("cleanup loop started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info("cleanup loop stopped")
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	e.failTimedOutJobs(ctx)
	e.removeExpiredJobs(ctx)
	e.removeOldTerminalJobs(ctx)
}

// failTimedOutJobs resolves processing jobs whose attempt exceeded the
// configured timeout. The job's own goroutine is not interrupted; like
// cancellation, its later writes hit the transition guard.
func (e *Engine) failTimedOutJobs(ctx context.Context) {
	ids, err := e.store.TimedOutJobIDs(ctx, e.cfg.ProcessingTimeout)
	if err != nil {
		e.log.Errorf("cleanup: listing timed-out jobs: %v", err)
		return
	}

	for _, id := range ids {
		errMsg := "job exceeded the maximum processing time"
		if e.transition(ctx, id, StatusUpdate{
			Status:  models.StatusFailed,
			Message: strPtr("Job timed out"),
			Error:   &errMsg,
		}) {
			e.log.Warnf("job %s: failed by timeout sweep", id)
			e.fanOut(id, models.StatusFailed, &errMsg, false)
		}
	}
}

func (e *Engine) removeExpiredJobs(ctx context.Context) {
	jobs, err := e.store.ExpiredJobs(ctx, time.Now().UTC())
	if err != nil {
		e.log.Errorf("cleanup: listing expired jobs: %v", err)
		return
	}

	for _, job := range jobs {
		e.removeArtifacts(job)
		if _, err := e.store.Delete(ctx, job.ID); err != nil {
			e.log.Errorf("cleanup: deleting expired job %s: %v", job.ID, err)
		}
	}

	if len(jobs) > 0 {
		e.log.Infof("cleanup: removed %d expired jobs", len(jobs))
	}
}

func (e *Engine) removeOldTerminalJobs(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -e.cfg.RetentionDays)

	jobs, err := e.store.TerminalJobsBefore(ctx, cutoff)
	if err != nil {
		e.log.Errorf("cleanup: listing old terminal jobs: %v", err)
		return
	}

	for _, job := range jobs {
		e.removeArtifacts(job)
		if _, err := e.store.Delete(ctx, job.ID); err != nil {
			e.log.Errorf("cleanup: deleting old job %s: %v", job.ID, err)
		}
	}

	if len(jobs) > 0 {
		e.log.Infof("cleanup: removed %d jobs past retention", len(jobs))
	}
}
