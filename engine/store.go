package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"convertd/models"
)

// ListFilter selects jobs for List queries. Nil fields match everything.
type ListFilter struct {
	Status         *models.JobStatus
	ConversionType *models.ConversionType
	OwnerID        *string
	Limit          int
	Offset         int
}

// StatusUpdate describes a guarded status write. Progress, Message, Error
// and ResultPath are only written when non-nil.
type StatusUpdate struct {
	Status     models.JobStatus
	Progress   *int
	Message    *string
	Error      *string
	ResultPath *string
}

// ExportSettings is the owner-level configuration for external-storage
// export of completed results.
type ExportSettings struct {
	Enabled             bool
	FolderName          string
	FilterTypes         string // comma-separated conversion types, or "all"
	UseOriginalFilename bool
}

// AppliesTo reports whether results of the given category should be
// exported under these settings.
func (s ExportSettings) AppliesTo(ct models.ConversionType) bool {
	filter := strings.TrimSpace(s.FilterTypes)
	if filter == "" || filter == "all" {
		return true
	}
	for _, part := range strings.Split(filter, ",") {
		if strings.TrimSpace(part) == string(ct) {
			return true
		}
	}
	return false
}

// Store is the durable persistence contract the engine depends on. Writes
// that change status are conditional on the legal source states and report
// whether a row was actually updated, so concurrent cancel and dispatch
// writes can never produce an illegal transition.
type Store interface {
	// Create persists a new job record.
	Create(ctx context.Context, job *models.Job) error

	// Get returns the job or ErrJobNotFound.
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// List returns matching jobs (newest first) and the total match count.
	List(ctx context.Context, filter ListFilter) ([]*models.Job, int64, error)

	// UpdateStatus applies a guarded status write. Writing "processing"
	// requires the job to currently be pending or processing; writing
	// "completed" or "failed" requires processing. It returns false when
	// the guard did not match (for example the job was cancelled).
	UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) (bool, error)

	// Delete removes the record. Returns false when the id is unknown.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)

	// CountActive counts pending+processing jobs, optionally per owner.
	CountActive(ctx context.Context, ownerID *string) (int64, error)

	// OwnerLimit returns the owner's configured concurrent-job limit.
	OwnerLimit(ctx context.Context, ownerID string) (int, error)

	// Webhook returns the job's webhook URL, if any.
	Webhook(ctx context.Context, id uuid.UUID) (*string, error)

	// SetExternalFileID records the external-storage artifact id.
	SetExternalFileID(ctx context.Context, id uuid.UUID, fileID string) error

	// ExternalFileID returns the recorded external artifact id, if any.
	ExternalFileID(ctx context.Context, id uuid.UUID) (*string, error)

	// ClearExternalFileID removes the recorded external artifact id.
	ClearExternalFileID(ctx context.Context, id uuid.UUID) error

	// ResetForRetry moves a failed job back to pending: progress 0,
	// error/timestamps cleared, retry_count incremented. Returns false
	// unless the job was in the failed state.
	ResetForRetry(ctx context.Context, id uuid.UUID) (bool, error)

	// Cancel marks a pending or processing job cancelled. Returns false
	// when the job was in any other state.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)

	// NextPending returns the oldest pending job, highest priority class
	// first, or nil when the queue is empty.
	NextPending(ctx context.Context) (*models.Job, error)

	// TimedOutJobIDs returns processing jobs that started earlier than
	// the given threshold ago.
	TimedOutJobIDs(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error)

	// ExpiredJobs returns completed jobs whose expiry horizon has passed.
	ExpiredJobs(ctx context.Context, now time.Time) ([]*models.Job, error)

	// TerminalJobsBefore returns terminal jobs created before the cutoff.
	TerminalJobsBefore(ctx context.Context, cutoff time.Time) ([]*models.Job, error)

	// ExportSettings returns the owner's export configuration, or nil
	// when the owner has none.
	ExportSettings(ctx context.Context, ownerID string) (*ExportSettings, error)
}
