package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates the lifecycle states of a conversion job. The
// lowercase names are part of the external contract (API responses,
// webhook payloads, database rows) and must not change.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further automatic transitions occur.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo reports whether moving to next is a legal transition.
// failed -> pending is the retry path; cancelled is reachable only from
// pending and processing.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	case StatusFailed:
		return next == StatusPending
	default:
		return false
	}
}

// ConversionType is the broad category of a conversion request. It selects
// the conversion routine and drives the export type filter.
type ConversionType string

const (
	TypeImage    ConversionType = "image"
	TypeDocument ConversionType = "document"
	TypeAudio    ConversionType = "audio"
	TypeVideo    ConversionType = "video"
	TypePDF      ConversionType = "pdf"
)

// Priority is recorded on every job but does not currently influence
// dispatch order; jobs run in submission order bounded by the global
// concurrency permit.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Job is one conversion request and its full lifecycle record.
type Job struct {
	ID               uuid.UUID      `json:"id"`
	OwnerID          *string        `json:"owner_id,omitempty"`
	ConversionType   ConversionType `json:"conversion_type"`
	InputFormat      string         `json:"input_format"`
	OutputFormat     string         `json:"output_format"`
	Quality          *int           `json:"quality,omitempty"`
	Width            *int           `json:"width,omitempty"`
	Height           *int           `json:"height,omitempty"`
	Status           JobStatus      `json:"status"`
	Progress         int            `json:"progress"`
	ProgressMessage  *string        `json:"progress_message,omitempty"`
	Error            *string        `json:"error,omitempty"`
	InputPath        string         `json:"-"`
	ResultPath       *string        `json:"-"`
	FileSizeBytes    *int64         `json:"file_size_bytes,omitempty"`
	OriginalFilename *string        `json:"original_filename,omitempty"`
	Priority         Priority       `json:"priority"`
	WebhookURL       *string        `json:"webhook_url,omitempty"`
	ExportRequested  bool           `json:"export_requested,omitempty"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	RetryCount       int            `json:"retry_count"`
	ExternalFileID   *string        `json:"external_file_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// ToProgressUpdate builds the synthetic update a late subscriber receives
// before attaching to the live stream.
func (j *Job) ToProgressUpdate() ProgressUpdate {
	var msg *string
	if j.ProgressMessage != nil {
		m := *j.ProgressMessage
		msg = &m
	}
	return NewProgressUpdate(j.ID, j.Status, j.Progress, msg)
}
