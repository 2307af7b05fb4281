package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"photoflow/internal/errs"
)

// PGStore persists jobs in the background_jobs table. Idempotent enqueue
// rides on the partial unique index over live dedupe keys, and Dequeue uses
// FOR UPDATE SKIP LOCKED so competing workers never claim the same row.
type PGStore struct {
	pool   *pgxpool.Pool
	policy Policy
}

func NewPGStore(pool *pgxpool.Pool, policy Policy) *PGStore {
	return &PGStore{pool: pool, policy: policy.normalize()}
}

func (s *PGStore) Enqueue(ctx context.Context, kind Kind, payload Payload) (bool, error) {
	const op = "queue.PGStore.Enqueue"

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO background_jobs (id, kind, dedupe_key, payload, status)
		 VALUES ($1, $2, $3, $4, 'queued')
		 ON CONFLICT (dedupe_key) WHERE status IN ('queued', 'running') DO NOTHING`,
		uuid.New(), kind, DedupeKey(kind, payload.PhotoID), payload)
	if err != nil {
		return false, errs.Wrap(errs.KindPersistence, op, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) Dequeue(ctx context.Context, kind Kind) (*Job, error) {
	const op = "queue.PGStore.Dequeue"

	var j Job
	err := s.pool.QueryRow(ctx,
		`UPDATE background_jobs SET status = 'running', updated_at = now()
		 WHERE id = (
			SELECT id FROM background_jobs
			WHERE kind = $1 AND status = 'queued' AND visible_at <= now()
			ORDER BY visible_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, kind, dedupe_key, payload, status, attempts,
			COALESCE(last_error, ''), visible_at, created_at, updated_at`,
		kind).
		Scan(&j.ID, &j.Kind, &j.DedupeKey, &j.Payload, &j.Status, &j.Attempts,
			&j.LastError, &j.VisibleAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, op, err)
	}
	return &j, nil
}

func (s *PGStore) Complete(ctx context.Context, id uuid.UUID) error {
	const op = "queue.PGStore.Complete"
	_, err := s.pool.Exec(ctx,
		`UPDATE background_jobs SET status = 'completed', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return errs.Wrap(errs.KindPersistence, op, err)
	}
	return nil
}

func (s *PGStore) Fail(ctx context.Context, id uuid.UUID, cause error) error {
	const op = "queue.PGStore.Fail"

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	// attempts+1 is the number of attempts consumed after this failure; the
	// CASE keeps the dead/requeue decision and the backoff in one statement.
	_, err := s.pool.Exec(ctx,
		`UPDATE background_jobs SET
			attempts = attempts + 1,
			last_error = $2,
			status = CASE WHEN attempts + 1 >= $3 THEN 'dead' ELSE 'queued' END,
			visible_at = now() + make_interval(secs => $4 * (1 << LEAST(attempts, 16))),
			updated_at = now()
		 WHERE id = $1`,
		id, msg, s.policy.MaxAttempts, s.policy.BaseBackoff.Seconds())
	if err != nil {
		return errs.Wrap(errs.KindPersistence, op, err)
	}
	return nil
}

func (s *PGStore) Reclaim(ctx context.Context, staleAfter time.Duration) (int, error) {
	const op = "queue.PGStore.Reclaim"

	tag, err := s.pool.Exec(ctx,
		`UPDATE background_jobs SET
			attempts = attempts + 1,
			last_error = 'attempt abandoned by worker',
			status = CASE WHEN attempts + 1 >= $2 THEN 'dead' ELSE 'queued' END,
			visible_at = now() + make_interval(secs => $3 * (1 << LEAST(attempts, 16))),
			updated_at = now()
		 WHERE status = 'running' AND updated_at < now() - make_interval(secs => $1)`,
		staleAfter.Seconds(), s.policy.MaxAttempts, s.policy.BaseBackoff.Seconds())
	if err != nil {
		return 0, errs.Wrap(errs.KindPersistence, op, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) Reap(ctx context.Context, completedTTL, deadTTL time.Duration) (int, error) {
	const op = "queue.PGStore.Reap"

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM background_jobs
		 WHERE (status = 'completed' AND updated_at < now() - make_interval(secs => $1))
			OR (status = 'dead' AND updated_at < now() - make_interval(secs => $2))`,
		completedTTL.Seconds(), deadTTL.Seconds())
	if err != nil {
		return 0, errs.Wrap(errs.KindPersistence, op, err)
	}
	return int(tag.RowsAffected()), nil
}
