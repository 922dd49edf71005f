package engine

import (
	"context"

	"github.com/google/uuid"

	"convertd/models"
)

// StreamJob returns a live, ordered stream of progress updates for one
// job. The first event is always synthesized from the persisted record,
// so a late subscriber sees the current state even when the job finished
// before subscription. The stream closes after a terminal event, when the
// context is done, or when the hub shuts down. If the subscriber lags
// behind the broadcast it is resynchronized from the store instead of
// receiving a gapless replay.
func (e *Engine) StreamJob(ctx context.Context, jobID uuid.UUID) (<-chan models.ProgressUpdate, error) {
	// Subscribe before the state read so transitions landing in between
	// are observed live rather than lost.
	sub := e.hub.Subscribe()

	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		sub.Close()
		return nil, err
	}

	initial := job.ToProgressUpdate()
	out := make(chan models.ProgressUpdate, 1)

	e.spawn(func() {
		defer close(out)
		defer sub.Close()

		if !send(ctx, out, initial) || initial.Status.IsTerminal() {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-sub.Updates():
				if !ok {
					return
				}

				if sub.Lagged() {
					sub.ClearLag()
					current, err := e.store.Get(context.Background(), jobID)
					if err != nil {
						e.log.Warnf("job %s: stream resync failed: %v", jobID, err)
						return
					}
					synthetic := current.ToProgressUpdate()
					if !send(ctx, out, synthetic) || synthetic.Status.IsTerminal() {
						return
					}
					continue
				}

				if update.JobID != jobID {
					continue
				}
				if !send(ctx, out, update) || update.Status.IsTerminal() {
					return
				}
			}
		}
	})

	return out, nil
}

func send(ctx context.Context, out chan<- models.ProgressUpdate, update models.ProgressUpdate) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- update:
		return true
	}
}
