package models

import (
	"time"

	"github.com/google/uuid"
)

// ProgressUpdate is the ephemeral payload of the progress hub. It is never
// persisted; durable status lives on the job record.
type ProgressUpdate struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Message   *string   `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewProgressUpdate(jobID uuid.UUID, status JobStatus, progress int, message *string) ProgressUpdate {
	if progress > 100 {
		progress = 100
	}
	if progress < 0 {
		progress = 0
	}
	return ProgressUpdate{
		JobID:     jobID,
		Status:    status,
		Progress:  progress,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}
