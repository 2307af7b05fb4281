package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store with the same semantics as PGStore. It
// backs tests and single-process development runs.
type MemStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*Job
	policy Policy
	now    func() time.Time
}

func NewMemStore(policy Policy) *MemStore {
	return &MemStore{
		jobs:   make(map[uuid.UUID]*Job),
		policy: policy.normalize(),
		now:    time.Now,
	}
}

// SetClock overrides the time source; tests use it to step past backoff.
func (s *MemStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemStore) Enqueue(_ context.Context, kind Kind, payload Payload) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := DedupeKey(kind, payload.PhotoID)
	for _, j := range s.jobs {
		if j.DedupeKey == key && (j.Status == StatusQueued || j.Status == StatusRunning) {
			return false, nil
		}
	}

	now := s.now()
	j := &Job{
		ID:        uuid.New(),
		Kind:      kind,
		DedupeKey: key,
		Payload:   payload,
		Status:    StatusQueued,
		VisibleAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[j.ID] = j
	return true, nil
}

func (s *MemStore) Dequeue(_ context.Context, kind Kind) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var next *Job
	for _, j := range s.jobs {
		if j.Kind != kind || j.Status != StatusQueued || j.VisibleAt.After(now) {
			continue
		}
		if next == nil || j.VisibleAt.Before(next.VisibleAt) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	next.Status = StatusRunning
	next.UpdatedAt = now
	cp := *next
	return &cp, nil
}

func (s *MemStore) Complete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[id]; ok {
		j.Status = StatusCompleted
		j.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemStore) Fail(_ context.Context, id uuid.UUID, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Attempts++
	if cause != nil {
		j.LastError = cause.Error()
	}
	now := s.now()
	j.UpdatedAt = now
	if j.Attempts >= s.policy.MaxAttempts {
		j.Status = StatusDead
		return nil
	}
	j.Status = StatusQueued
	j.VisibleAt = now.Add(s.policy.NextDelay(j.Attempts))
	return nil
}

func (s *MemStore) Reclaim(_ context.Context, staleAfter time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	reclaimed := 0
	for _, j := range s.jobs {
		if j.Status != StatusRunning || now.Sub(j.UpdatedAt) <= staleAfter {
			continue
		}
		j.Attempts++
		j.LastError = "attempt abandoned by worker"
		j.UpdatedAt = now
		if j.Attempts >= s.policy.MaxAttempts {
			j.Status = StatusDead
		} else {
			j.Status = StatusQueued
			j.VisibleAt = now.Add(s.policy.NextDelay(j.Attempts))
		}
		reclaimed++
	}
	return reclaimed, nil
}

func (s *MemStore) Reap(_ context.Context, completedTTL, deadTTL time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	reaped := 0
	for id, j := range s.jobs {
		switch {
		case j.Status == StatusCompleted && now.Sub(j.UpdatedAt) > completedTTL:
			delete(s.jobs, id)
			reaped++
		case j.Status == StatusDead && now.Sub(j.UpdatedAt) > deadTTL:
			delete(s.jobs, id)
			reaped++
		}
	}
	return reaped, nil
}

// Get returns a copy of a job for inspection.
func (s *MemStore) Get(id uuid.UUID) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Snapshot returns copies of every job, for tests and diagnostics.
func (s *MemStore) Snapshot() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}
