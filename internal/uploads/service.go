// Package uploads orchestrates batch photo uploads: it creates photo and
// job records, hands out upload capabilities, and turns per-photo terminal
// events into job counter updates, progress events, and background work.
package uploads

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"photoflow/internal/blobstore"
	"photoflow/internal/errs"
	"photoflow/internal/models"
	"photoflow/internal/queue"
)

// MaxBatchSize bounds one init request.
const MaxBatchSize = 100

// PhotoRepo and JobRepo are the persistence slices this service consumes;
// the Postgres implementation lives in internal/storage and tests supply
// in-memory fakes.
type PhotoRepo interface {
	CreatePhoto(ctx context.Context, p *models.Photo) error
	GetPhoto(ctx context.Context, id uuid.UUID) (*models.Photo, error)
	// ResolvePhoto atomically flips a pending photo terminal and advances
	// the owning job's counters, returning applied=false for repeats.
	ResolvePhoto(ctx context.Context, photoID uuid.UUID, to models.PhotoStatus, url *string) (bool, *models.UploadJob, error)
}

type JobRepo interface {
	CreateJob(ctx context.Context, j *models.UploadJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.UploadJob, error)
	SetJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
}

// CapabilityIssuer mints time-limited upload URLs and stable public URLs.
type CapabilityIssuer interface {
	IssueUploadURL(ctx context.Context, key, mimeType string, ttl time.Duration) (string, error)
	PublicURL(key string) string
}

// Publisher receives a progress event for every job mutation.
type Publisher interface {
	Publish(ev models.ProgressEvent)
}

// Enqueuer adds background work; duplicates by dedupe key are no-ops.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind queue.Kind, payload queue.Payload) (bool, error)
}

type Service struct {
	photos    PhotoRepo
	jobs      JobRepo
	caps      CapabilityIssuer
	publisher Publisher
	enqueuer  Enqueuer
	logger    *slog.Logger
	uploadTTL time.Duration
}

func NewService(photos PhotoRepo, jobs JobRepo, caps CapabilityIssuer, publisher Publisher, enqueuer Enqueuer, logger *slog.Logger, uploadTTL time.Duration) *Service {
	if uploadTTL <= 0 {
		uploadTTL = blobstore.DefaultTTL
	}
	return &Service{
		photos:    photos,
		jobs:      jobs,
		caps:      caps,
		publisher: publisher,
		enqueuer:  enqueuer,
		logger:    logger,
		uploadTTL: uploadTTL,
	}
}

// InitResult is what the client needs to start uploading. Solo uploads fill
// the photo fields; batches fill the job fields.
type InitResult struct {
	PhotoID       *uuid.UUID  `json:"photoId,omitempty"`
	UploadURL     string      `json:"uploadUrl,omitempty"`
	StorageKey    string      `json:"storageKey,omitempty"`
	JobID         *uuid.UUID  `json:"jobId,omitempty"`
	PhotoIDs      []uuid.UUID `json:"photoIds,omitempty"`
	PresignedURLs []string    `json:"presignedUrls,omitempty"`
}

// InitUpload creates the records for a one-or-many upload and returns one
// upload capability per photo. Every record is durably persisted before its
// capability is issued. A single descriptor never creates a job.
func (s *Service) InitUpload(ctx context.Context, userID string, descriptors []models.UploadDescriptor) (*InitResult, error) {
	const op = "uploads.InitUpload"

	if err := validateDescriptors(op, descriptors); err != nil {
		return nil, err
	}

	if len(descriptors) == 1 {
		photoID, url, key, err := s.createPhoto(ctx, userID, nil, descriptors[0])
		if err != nil {
			return nil, err
		}
		return &InitResult{PhotoID: &photoID, UploadURL: url, StorageKey: key}, nil
	}

	job := &models.UploadJob{
		ID:          uuid.New(),
		UserID:      userID,
		TotalPhotos: len(descriptors),
		Status:      models.JobPending,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	result := &InitResult{
		JobID:         &job.ID,
		PhotoIDs:      make([]uuid.UUID, 0, len(descriptors)),
		PresignedURLs: make([]string, 0, len(descriptors)),
	}
	for _, d := range descriptors {
		photoID, url, _, err := s.createPhoto(ctx, userID, &job.ID, d)
		if err != nil {
			return nil, err
		}
		result.PhotoIDs = append(result.PhotoIDs, photoID)
		result.PresignedURLs = append(result.PresignedURLs, url)
	}

	if err := s.jobs.SetJobStatus(ctx, job.ID, models.JobInProgress); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) createPhoto(ctx context.Context, userID string, jobID *uuid.UUID, d models.UploadDescriptor) (uuid.UUID, string, string, error) {
	photoID := uuid.New()
	key := blobstore.ObjectKey(userID, photoID, d.Filename)

	photo := &models.Photo{
		ID:         photoID,
		UserID:     userID,
		JobID:      jobID,
		Filename:   d.Filename,
		ByteSize:   d.Size,
		MimeType:   d.MimeType,
		StorageKey: key,
		Status:     models.PhotoPending,
	}
	if err := s.photos.CreatePhoto(ctx, photo); err != nil {
		return uuid.UUID{}, "", "", err
	}

	url, err := s.caps.IssueUploadURL(ctx, key, d.MimeType, s.uploadTTL)
	if err != nil {
		return uuid.UUID{}, "", "", err
	}
	return photoID, url, key, nil
}

func validateDescriptors(op string, descriptors []models.UploadDescriptor) error {
	if len(descriptors) == 0 {
		return errs.New(errs.KindValidation, op, "at least one file descriptor required")
	}
	if len(descriptors) > MaxBatchSize {
		return errs.New(errs.KindValidation, op,
			fmt.Sprintf("batch size %d exceeds limit of %d", len(descriptors), MaxBatchSize))
	}
	for i, d := range descriptors {
		switch {
		case d.Filename == "":
			return errs.New(errs.KindValidation, op, fmt.Sprintf("descriptor %d: filename required", i))
		case d.Size <= 0:
			return errs.New(errs.KindValidation, op, fmt.Sprintf("descriptor %d: size must be positive", i))
		case d.MimeType == "":
			return errs.New(errs.KindValidation, op, fmt.Sprintf("descriptor %d: mime type required", i))
		}
	}
	return nil
}

// MarkCompleted records that the client finished uploading a photo's bytes.
// Repeating the call for an already-resolved photo is a no-op.
func (s *Service) MarkCompleted(ctx context.Context, photoID uuid.UUID, userID string) error {
	return s.resolve(ctx, photoID, userID, models.PhotoCompleted)
}

// MarkFailed records that the client's upload of a photo failed.
func (s *Service) MarkFailed(ctx context.Context, photoID uuid.UUID, userID string) error {
	return s.resolve(ctx, photoID, userID, models.PhotoFailed)
}

func (s *Service) resolve(ctx context.Context, photoID uuid.UUID, userID string, to models.PhotoStatus) error {
	const op = "uploads.resolve"

	photo, err := s.photos.GetPhoto(ctx, photoID)
	if err != nil {
		return err
	}
	if photo.UserID != userID {
		return errs.New(errs.KindForbidden, op, "photo belongs to another user")
	}

	var url *string
	if to == models.PhotoCompleted {
		u := s.caps.PublicURL(photo.StorageKey)
		url = &u
	}

	applied, job, err := s.photos.ResolvePhoto(ctx, photoID, to, url)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if job != nil {
		s.publisher.Publish(job.Progress())
	}

	if to == models.PhotoCompleted {
		s.enqueuePostProcessing(ctx, photo)
	}
	return nil
}

// enqueuePostProcessing schedules the thumbnail and label jobs. The photo is
// already committed as completed; an enqueue failure degrades that photo's
// derived fields instead of failing the caller's request.
func (s *Service) enqueuePostProcessing(ctx context.Context, photo *models.Photo) {
	payload := queue.Payload{
		PhotoID:    photo.ID,
		StorageKey: photo.StorageKey,
		UserID:     photo.UserID,
	}
	for _, kind := range []queue.Kind{queue.KindThumbnail, queue.KindLabels} {
		if _, err := s.enqueuer.Enqueue(ctx, kind, payload); err != nil {
			s.logger.Error("enqueue post-processing job",
				"kind", kind, "photo_id", photo.ID, "error", err)
		}
	}
}
