// Package storage holds the Postgres repositories for photos and upload
// jobs. ResolvePhoto is the single write path for job counters; every
// increment happens inside one UPDATE so concurrent completions on the
// same job can never lose an update.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"

	"photoflow/internal/errs"
	"photoflow/internal/models"
)

type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // for migrations
}

// NewStorage connects to Postgres, waiting with exponential backoff for it
// to accept connections, then applies migrations.
func NewStorage(ctx context.Context, dsn string) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, op, err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(pool.Ping(ctx))
	}); err != nil {
		pool.Close()
		return nil, errs.Wrap(errs.KindPersistence, op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		pool.Close()
		return nil, errs.Wrap(errs.KindPersistence, op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

// Pool exposes the underlying connection pool for collaborators that keep
// their own tables (the background work queue).
func (s *Storage) Pool() *pgxpool.Pool { return s.pool }

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

const photoColumns = `id, user_id, job_id, filename, byte_size, mime_type, storage_key,
	url, thumbnail_key, status, tags, suggested_tags, created_at, updated_at`

func scanPhoto(row pgx.Row) (*models.Photo, error) {
	var p models.Photo
	err := row.Scan(&p.ID, &p.UserID, &p.JobID, &p.Filename, &p.ByteSize, &p.MimeType,
		&p.StorageKey, &p.URL, &p.ThumbnailKey, &p.Status, &p.Tags, &p.SuggestedTags,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Storage) CreatePhoto(ctx context.Context, p *models.Photo) error {
	const op = "storage.CreatePhoto"
	_, err := s.pool.Exec(ctx,
		`INSERT INTO photos (id, user_id, job_id, filename, byte_size, mime_type, storage_key, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.UserID, p.JobID, p.Filename, p.ByteSize, p.MimeType, p.StorageKey, p.Status)
	if err != nil {
		return errs.Wrap(errs.KindPersistence, op, err)
	}
	return nil
}

func (s *Storage) GetPhoto(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	const op = "storage.GetPhoto"
	p, err := scanPhoto(s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM photos WHERE id = $1`, photoColumns), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, op, "photo not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, op, err)
	}
	return p, nil
}

func (s *Storage) ListPhotosByUser(ctx context.Context, userID string) ([]models.Photo, error) {
	const op = "storage.ListPhotosByUser"
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM photos WHERE user_id = $1 ORDER BY created_at DESC`, photoColumns),
		userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, op, err)
	}
	defer rows.Close()

	var photos []models.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, errs.Wrap(errs.KindPersistence, op, err)
		}
		photos = append(photos, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, op, err)
	}
	return photos, nil
}

// PhotoPatch is a field-level partial update; nil pointers leave the column
// untouched. Setting SuggestedTags to a pointer at an empty slice writes NULL.
type PhotoPatch struct {
	URL           *string
	ThumbnailKey  *string
	Tags          *[]string
	SuggestedTags *[]string
}

func (s *Storage) UpdatePhoto(ctx context.Context, id uuid.UUID, patch PhotoPatch) error {
	const op = "storage.UpdatePhoto"

	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.URL != nil {
		add("url", *patch.URL)
	}
	if patch.ThumbnailKey != nil {
		add("thumbnail_key", *patch.ThumbnailKey)
	}
	if patch.Tags != nil {
		add("tags", nullableStrings(*patch.Tags))
	}
	if patch.SuggestedTags != nil {
		add("suggested_tags", nullableStrings(*patch.SuggestedTags))
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE photos SET %s WHERE id = $1`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return errs.Wrap(errs.KindPersistence, op, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindNotFound, op, "photo not found")
	}
	return nil
}

func nullableStrings(v []string) []string {
	if len(v) == 0 {
		return nil
	}
	return v
}

func (s *Storage) CreateJob(ctx context.Context, j *models.UploadJob) error {
	const op = "storage.CreateJob"
	_, err := s.pool.Exec(ctx,
		`INSERT INTO upload_jobs (id, user_id, total_photos, status)
		 VALUES ($1, $2, $3, $4)`,
		j.ID, j.UserID, j.TotalPhotos, j.Status)
	if err != nil {
		return errs.Wrap(errs.KindPersistence, op, err)
	}
	return nil
}

func (s *Storage) GetJob(ctx context.Context, id uuid.UUID) (*models.UploadJob, error) {
	const op = "storage.GetJob"
	var j models.UploadJob
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, total_photos, completed_photos, failed_photos, status, created_at, updated_at
		 FROM upload_jobs WHERE id = $1`, id).
		Scan(&j.ID, &j.UserID, &j.TotalPhotos, &j.CompletedPhotos, &j.FailedPhotos,
			&j.Status, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, op, "job not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, op, err)
	}
	return &j, nil
}

func (s *Storage) SetJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	const op = "storage.SetJobStatus"
	_, err := s.pool.Exec(ctx,
		`UPDATE upload_jobs SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return errs.Wrap(errs.KindPersistence, op, err)
	}
	return nil
}

// ResolvePhoto flips a pending photo to a terminal status and, when the
// photo belongs to a job, advances the job's counters in the same
// transaction. The counter bump and the derived status are computed inside
// a single UPDATE, so concurrent resolutions serialize on the job row and
// the read-modify-write race cannot occur.
//
// Returns applied=false when the photo was already terminal (the repeated
// call is a no-op) and the job's fresh state when one is attached.
func (s *Storage) ResolvePhoto(ctx context.Context, photoID uuid.UUID, to models.PhotoStatus, url *string) (bool, *models.UploadJob, error) {
	const op = "storage.ResolvePhoto"

	var completedInc, failedInc int
	switch to {
	case models.PhotoCompleted:
		completedInc = 1
	case models.PhotoFailed:
		failedInc = 1
	default:
		return false, nil, errs.New(errs.KindValidation, op, "target status must be terminal")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, nil, errs.Wrap(errs.KindPersistence, op, err)
	}
	defer tx.Rollback(ctx)

	var jobID *uuid.UUID
	err = tx.QueryRow(ctx,
		`UPDATE photos SET status = $2, url = COALESCE($3, url), updated_at = now()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING job_id`,
		photoID, to, url).Scan(&jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already terminal; nothing to apply.
		return false, nil, nil
	}
	if err != nil {
		return false, nil, errs.Wrap(errs.KindPersistence, op, err)
	}

	var job *models.UploadJob
	if jobID != nil {
		var j models.UploadJob
		err = tx.QueryRow(ctx,
			`UPDATE upload_jobs SET
				completed_photos = completed_photos + $2,
				failed_photos = failed_photos + $3,
				status = CASE
					WHEN completed_photos + failed_photos + 1 >= total_photos THEN
						CASE WHEN completed_photos + $2 = 0 THEN 'failed' ELSE 'completed' END
					ELSE 'in-progress'
				END,
				updated_at = now()
			 WHERE id = $1
			 RETURNING id, user_id, total_photos, completed_photos, failed_photos, status, created_at, updated_at`,
			*jobID, completedInc, failedInc).
			Scan(&j.ID, &j.UserID, &j.TotalPhotos, &j.CompletedPhotos, &j.FailedPhotos,
				&j.Status, &j.CreatedAt, &j.UpdatedAt)
		if err != nil {
			return false, nil, errs.Wrap(errs.KindPersistence, op, err)
		}
		job = &j
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, errs.Wrap(errs.KindPersistence, op, err)
	}
	return true, job, nil
}
