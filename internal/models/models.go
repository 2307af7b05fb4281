package models

import (
	"time"

	"github.com/google/uuid"
)

// PhotoStatus is the upload lifecycle of a single photo. A photo is created
// pending and moves exactly once to completed or failed.
type PhotoStatus string

const (
	PhotoPending   PhotoStatus = "pending"
	PhotoCompleted PhotoStatus = "completed"
	PhotoFailed    PhotoStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s PhotoStatus) Terminal() bool {
	return s == PhotoCompleted || s == PhotoFailed
}

// JobStatus is the aggregate lifecycle of a batch upload. It is always a
// pure function of the job's counters: in-progress while resolved photos
// are below the total, terminal once every photo has resolved.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in-progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Photo is one uploaded image.
type Photo struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	UserID        string      `db:"user_id" json:"userId"`
	JobID         *uuid.UUID  `db:"job_id" json:"jobId,omitempty"` // nil for solo uploads
	Filename      string      `db:"filename" json:"filename"`
	ByteSize      int64       `db:"byte_size" json:"byteSize"`
	MimeType      string      `db:"mime_type" json:"mimeType"`
	StorageKey    string      `db:"storage_key" json:"storageKey"`
	URL           *string     `db:"url" json:"url,omitempty"`
	ThumbnailKey  *string     `db:"thumbnail_key" json:"thumbnailKey,omitempty"`
	Status        PhotoStatus `db:"status" json:"status"`
	Tags          []string    `db:"tags" json:"tags,omitempty"`
	SuggestedTags []string    `db:"suggested_tags" json:"suggestedTags,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updatedAt"`
}

// UploadJob tracks one batch of photos uploaded together. Counters only
// ever grow, and completed+failed never exceeds the total fixed at creation.
type UploadJob struct {
	ID              uuid.UUID `db:"id" json:"id"`
	UserID          string    `db:"user_id" json:"userId"`
	TotalPhotos     int       `db:"total_photos" json:"totalPhotos"`
	CompletedPhotos int       `db:"completed_photos" json:"completedPhotos"`
	FailedPhotos    int       `db:"failed_photos" json:"failedPhotos"`
	Status          JobStatus `db:"status" json:"status"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// DeriveJobStatus maps counters onto the job status. A finished batch counts
// as failed only when every photo failed; a mix of outcomes is completed
// with a non-zero failed counter.
func DeriveJobStatus(completed, failed, total int) JobStatus {
	if completed+failed < total {
		return JobInProgress
	}
	if completed == 0 {
		return JobFailed
	}
	return JobCompleted
}

// Progress returns the event snapshot for the job's current state.
func (j *UploadJob) Progress() ProgressEvent {
	return ProgressEvent{
		JobID:           j.ID,
		CompletedPhotos: j.CompletedPhotos,
		FailedPhotos:    j.FailedPhotos,
		TotalPhotos:     j.TotalPhotos,
		Status:          j.Status,
	}
}

// ProgressEvent is the wire snapshot broadcast on every job mutation. It is
// never persisted; late subscribers get a fresh snapshot instead of replay.
type ProgressEvent struct {
	JobID           uuid.UUID `json:"jobId"`
	CompletedPhotos int       `json:"completedPhotos"`
	FailedPhotos    int       `json:"failedPhotos"`
	TotalPhotos     int       `json:"totalPhotos"`
	Status          JobStatus `json:"status"`
}

// UploadDescriptor describes one file the client intends to upload.
type UploadDescriptor struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}
