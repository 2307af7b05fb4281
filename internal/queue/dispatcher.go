package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Handler executes one job attempt. Returning an error consumes the attempt
// and triggers the store's retry policy.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error { return f(ctx, job) }

const (
	defaultPollInterval = 500 * time.Millisecond
	reapInterval        = time.Minute
	completedRetention  = 10 * time.Minute
	deadRetention       = 24 * time.Hour
	staleRunningAfter   = 5 * time.Minute
)

// Dispatcher runs a fixed-size worker pool per job kind. Pools are
// independent so a slow label-detection backend cannot starve thumbnail
// throughput, and a panicking handler costs only that job's attempt.
type Dispatcher struct {
	store        Store
	logger       *slog.Logger
	pollInterval time.Duration

	mu    sync.Mutex
	pools map[Kind]pool
}

type pool struct {
	handler Handler
	workers int
}

func NewDispatcher(store Store, logger *slog.Logger, pollInterval time.Duration) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Dispatcher{
		store:        store,
		logger:       logger,
		pollInterval: pollInterval,
		pools:        make(map[Kind]pool),
	}
}

// Register binds a handler and worker count to a kind. Must be called
// before Run.
func (d *Dispatcher) Register(kind Kind, handler Handler, workers int) {
	if workers <= 0 {
		workers = 1
	}
	d.mu.Lock()
	d.pools[kind] = pool{handler: handler, workers: workers}
	d.mu.Unlock()
}

// Run starts every registered pool plus the reaper and blocks until ctx is
// cancelled and all workers have drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup

	d.mu.Lock()
	pools := make(map[Kind]pool, len(d.pools))
	for kind, p := range d.pools {
		pools[kind] = p
	}
	d.mu.Unlock()

	for kind, p := range pools {
		for i := 0; i < p.workers; i++ {
			wg.Add(1)
			go func(kind Kind, handler Handler, worker int) {
				defer wg.Done()
				d.workerLoop(ctx, kind, handler, worker)
			}(kind, p.handler, i)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.reapLoop(ctx)
	}()

	wg.Wait()
}

func (d *Dispatcher) workerLoop(ctx context.Context, kind Kind, handler Handler, worker int) {
	logger := d.logger.With("kind", kind, "worker", worker)

	// Bookkeeping writes must land even when ctx is cancelled mid-attempt;
	// otherwise a shutdown leaves the claimed job stuck in running.
	bookCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := d.store.Dequeue(ctx, kind)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", "error", err)
			d.sleep(ctx)
			continue
		}
		if job == nil {
			d.sleep(ctx)
			continue
		}

		attemptErr := d.runAttempt(ctx, handler, job)
		if attemptErr != nil {
			logger.Warn("job attempt failed",
				"job_id", job.ID, "photo_id", job.Payload.PhotoID,
				"attempt", job.Attempts+1, "error", attemptErr)
			if err := d.store.Fail(bookCtx, job.ID, attemptErr); err != nil {
				logger.Error("record job failure", "job_id", job.ID, "error", err)
			}
			continue
		}

		if err := d.store.Complete(bookCtx, job.ID); err != nil {
			logger.Error("record job completion", "job_id", job.ID, "error", err)
		}
	}
}

// runAttempt isolates handler panics so one bad job cannot take down the
// pool; the panic just fails that attempt.
func (d *Dispatcher) runAttempt(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, job)
}

func (d *Dispatcher) sleep(ctx context.Context) {
	// Jitter spreads pollers out so they do not hammer the store in lockstep.
	jitter := time.Duration(rand.Int63n(int64(d.pollInterval) / 2))
	select {
	case <-ctx.Done():
	case <-time.After(d.pollInterval + jitter):
	}
}

func (d *Dispatcher) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := d.store.Reclaim(ctx, staleRunningAfter); err != nil {
				d.logger.Error("reclaim abandoned jobs", "error", err)
			} else if n > 0 {
				d.logger.Warn("requeued abandoned jobs", "count", n)
			}

			n, err := d.store.Reap(ctx, completedRetention, deadRetention)
			if err != nil {
				d.logger.Error("reap finished jobs", "error", err)
				continue
			}
			if n > 0 {
				d.logger.Debug("reaped finished jobs", "count", n)
			}
		}
	}
}
