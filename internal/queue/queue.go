// Package queue is the durable background work queue driving photo
// post-processing. Enqueue is idempotent per unit of work, attempts are
// bounded with exponential backoff between them, and exhausted jobs land
// in a dead set instead of retrying forever.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind selects the worker pool that consumes a job.
type Kind string

const (
	KindThumbnail Kind = "thumbnail"
	KindLabels    Kind = "labels"
)

// Status is the queue-side lifecycle of one job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusDead      Status = "dead"
)

// Payload identifies the photo a job operates on.
type Payload struct {
	PhotoID    uuid.UUID `json:"photoId"`
	StorageKey string    `json:"storageKey"`
	UserID     string    `json:"userId"`
}

// Job is one persisted unit of asynchronous work.
type Job struct {
	ID        uuid.UUID
	Kind      Kind
	DedupeKey string
	Payload   Payload
	Status    Status
	Attempts  int
	LastError string
	VisibleAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DedupeKey is the deterministic identity of a unit of work; enqueuing the
// same key while an equivalent job is queued or running is a no-op.
func DedupeKey(kind Kind, photoID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", kind, photoID)
}

// Store is the persistence contract shared by the Postgres implementation
// and the in-memory one used in tests and single-process development.
type Store interface {
	// Enqueue inserts a job unless its dedupe key is already live.
	// Returns false when deduplicated.
	Enqueue(ctx context.Context, kind Kind, payload Payload) (bool, error)
	// Dequeue claims the next visible queued job of the kind, marking it
	// running. Returns nil when nothing is eligible.
	Dequeue(ctx context.Context, kind Kind) (*Job, error)
	// Complete marks a running job finished.
	Complete(ctx context.Context, id uuid.UUID) error
	// Fail records a failed attempt: the job is rescheduled with backoff
	// until the attempt limit is reached, then moved to the dead set.
	Fail(ctx context.Context, id uuid.UUID, cause error) error
	// Reap deletes completed jobs older than completedTTL and dead jobs
	// older than deadTTL, returning how many rows went away.
	Reap(ctx context.Context, completedTTL, deadTTL time.Duration) (int, error)
	// Reclaim requeues running jobs whose claim is older than staleAfter.
	// A worker that died mid-attempt never reports back, so the abandoned
	// attempt counts against the retry limit; exhausted jobs go dead.
	Reclaim(ctx context.Context, staleAfter time.Duration) (int, error)
}

// Policy bounds retries. Backoff doubles per attempt from Base.
type Policy struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 5 * time.Second
	}
	return p
}

// NextDelay returns the backoff before the given (1-based) attempt number
// may run again.
func (p Policy) NextDelay(attempts int) time.Duration {
	delay := p.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}
