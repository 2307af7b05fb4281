// Package stream serves long-lived per-job progress connections. Each
// connection replays the job's current snapshot, then forwards published
// events, interleaved with liveness pings so intermediaries keep the
// connection open. Subscriptions and timers are released on every exit path.
package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"photoflow/internal/errs"
	"photoflow/internal/models"
	"photoflow/internal/progress"
)

// JobSource fetches the authoritative job snapshot, independent of the
// notifier, so late subscribers see current state rather than replay.
type JobSource interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.UploadJob, error)
}

// Ping is the liveness message; consumers ignore it.
type Ping struct {
	Type string `json:"type"`
}

func pingMessage() Ping { return Ping{Type: "ping"} }

type Server struct {
	jobs     JobSource
	notifier *progress.Notifier
	ping     time.Duration
	logger   *slog.Logger
}

func NewServer(jobs JobSource, notifier *progress.Notifier, pingInterval time.Duration, logger *slog.Logger) *Server {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Server{jobs: jobs, notifier: notifier, ping: pingInterval, logger: logger}
}

// Snapshot returns the job's current progress for a one-shot poll, with the
// same authorization rules as the streams.
func (s *Server) Snapshot(ctx context.Context, jobID uuid.UUID, userID string) (models.ProgressEvent, error) {
	job, err := s.authorize(ctx, jobID, userID)
	if err != nil {
		return models.ProgressEvent{}, err
	}
	return job.Progress(), nil
}

// authorize checks the job exists and belongs to the user before any
// stream is opened.
func (s *Server) authorize(ctx context.Context, jobID uuid.UUID, userID string) (*models.UploadJob, error) {
	const op = "stream.authorize"

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, errs.New(errs.KindForbidden, op, "job belongs to another user")
	}
	return job, nil
}
