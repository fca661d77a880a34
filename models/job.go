package models

import (
	"time"
)

// JobStatus represents the current state of a job in the system
type JobStatus string

const (
	StatusUploaded   JobStatus = "uploaded"
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job is the record kept for one submitted job description
type Job struct {
	ID             string    `json:"id"`
	Container      string    `json:"container"`
	SourcePath     string    `json:"source_path"`
	OutputPath     string    `json:"output_path,omitempty"`
	Label          string    `json:"label,omitempty"`
	Status         JobStatus `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ProcessingNode string    `json:"processing_node,omitempty"`
}

// UploadResponse is returned by POST /upload_job
type UploadResponse struct {
	JobID   string `json:"job_id"`
	BlobURL string `json:"blob_url"`
}

// ExtractRequest is the body of POST /extract_job
type ExtractRequest struct {
	Container string `json:"container,omitempty"`
	BlobPath  string `json:"blob_path"`
}
