package engine

import "errors"

var (
	// ErrJobNotFound means the job id is unknown to the store.
	ErrJobNotFound = errors.New("engine: job not found")

	// ErrTooManyJobs means the owner is at their active-job limit.
	ErrTooManyJobs = errors.New("engine: too many active jobs")

	// ErrUnsupportedFormat means the requested input or output format is
	// not in the category's allow-list.
	ErrUnsupportedFormat = errors.New("engine: unsupported format")

	// ErrInvalidTransition means the requested operation is illegal for
	// the job's current status (e.g. retrying a non-failed job).
	ErrInvalidTransition = errors.New("engine: invalid job state transition")

	// ErrRetryLimitReached means the job exhausted its retry budget.
	ErrRetryLimitReached = errors.New("engine: retry limit reached")

	// ErrJobNotCompleted means the result was requested before the job
	// reached the completed state.
	ErrJobNotCompleted = errors.New("engine: job not completed")
)
