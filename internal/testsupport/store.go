// Package testsupport provides in-memory stand-ins for the persistence and
// storage collaborators so service tests run without Postgres or S3.
package testsupport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"photoflow/internal/errs"
	"photoflow/internal/models"
	"photoflow/internal/storage"
)

// Store keeps photos and jobs in maps, mirroring the SQL repositories'
// semantics: ResolvePhoto applies the terminal flip and the counter bump
// atomically under one lock and is a no-op for already-terminal photos.
type Store struct {
	mu     sync.Mutex
	photos map[uuid.UUID]*models.Photo
	jobs   map[uuid.UUID]*models.UploadJob
}

func NewStore() *Store {
	return &Store{
		photos: make(map[uuid.UUID]*models.Photo),
		jobs:   make(map[uuid.UUID]*models.UploadJob),
	}
}

func (s *Store) CreatePhoto(_ context.Context, p *models.Photo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.photos[p.ID] = &cp
	return nil
}

func (s *Store) GetPhoto(_ context.Context, id uuid.UUID) (*models.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.photos[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "testsupport.GetPhoto", "photo not found")
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListPhotosByUser(_ context.Context, userID string) ([]models.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Photo
	for _, p := range s.photos {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Store) UpdatePhoto(_ context.Context, id uuid.UUID, patch storage.PhotoPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.photos[id]
	if !ok {
		return errs.New(errs.KindNotFound, "testsupport.UpdatePhoto", "photo not found")
	}
	if patch.URL != nil {
		v := *patch.URL
		p.URL = &v
	}
	if patch.ThumbnailKey != nil {
		v := *patch.ThumbnailKey
		p.ThumbnailKey = &v
	}
	if patch.Tags != nil {
		p.Tags = append([]string(nil), *patch.Tags...)
	}
	if patch.SuggestedTags != nil {
		if len(*patch.SuggestedTags) == 0 {
			p.SuggestedTags = nil
		} else {
			p.SuggestedTags = append([]string(nil), *patch.SuggestedTags...)
		}
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ResolvePhoto(_ context.Context, photoID uuid.UUID, to models.PhotoStatus, url *string) (bool, *models.UploadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.photos[photoID]
	if !ok {
		return false, nil, errs.New(errs.KindNotFound, "testsupport.ResolvePhoto", "photo not found")
	}
	if p.Status != models.PhotoPending {
		return false, nil, nil
	}

	p.Status = to
	if url != nil {
		v := *url
		p.URL = &v
	}
	p.UpdatedAt = time.Now()

	if p.JobID == nil {
		return true, nil, nil
	}

	j, ok := s.jobs[*p.JobID]
	if !ok {
		return false, nil, errs.New(errs.KindNotFound, "testsupport.ResolvePhoto", "job not found")
	}
	switch to {
	case models.PhotoCompleted:
		j.CompletedPhotos++
	case models.PhotoFailed:
		j.FailedPhotos++
	}
	j.Status = models.DeriveJobStatus(j.CompletedPhotos, j.FailedPhotos, j.TotalPhotos)
	j.UpdatedAt = time.Now()

	cp := *j
	return true, &cp, nil
}

func (s *Store) CreateJob(_ context.Context, j *models.UploadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *j
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.jobs[j.ID] = &cp
	return nil
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*models.UploadJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "testsupport.GetJob", "job not found")
	}
	cp := *j
	return &cp, nil
}

func (s *Store) SetJobStatus(_ context.Context, id uuid.UUID, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return errs.New(errs.KindNotFound, "testsupport.SetJobStatus", "job not found")
	}
	j.Status = status
	j.UpdatedAt = time.Now()
	return nil
}
