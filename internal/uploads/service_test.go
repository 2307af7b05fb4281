package uploads_test

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"photoflow/internal/errs"
	"photoflow/internal/models"
	"photoflow/internal/queue"
	"photoflow/internal/testsupport"
	"photoflow/internal/uploads"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *eventRecorder) Publish(ev models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []models.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ProgressEvent(nil), r.events...)
}

type fixture struct {
	store  *testsupport.Store
	caps   *testsupport.Caps
	events *eventRecorder
	queue  *queue.MemStore
	svc    *uploads.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testsupport.NewStore()
	caps := &testsupport.Caps{}
	events := &eventRecorder{}
	q := queue.NewMemStore(queue.Policy{})
	svc := uploads.NewService(store, store, caps, events, q, slog.Default(), time.Hour)
	return &fixture{store: store, caps: caps, events: events, queue: q, svc: svc}
}

func descriptors(n int) []models.UploadDescriptor {
	out := make([]models.UploadDescriptor, n)
	for i := range out {
		out[i] = models.UploadDescriptor{
			Filename: fmt.Sprintf("photo-%d.jpg", i),
			Size:     1024,
			MimeType: "image/jpeg",
		}
	}
	return out
}

func TestInitUploadSingleCreatesNoJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.InitUpload(ctx, "u1", descriptors(1))
	if err != nil {
		t.Fatalf("InitUpload failed: %v", err)
	}
	if result.PhotoID == nil {
		t.Fatal("expected photoId in single-upload result")
	}
	if result.JobID != nil {
		t.Fatal("single upload must not create a job")
	}
	if result.UploadURL == "" || result.StorageKey == "" {
		t.Fatalf("incomplete result: %+v", result)
	}

	photo, err := f.store.GetPhoto(ctx, *result.PhotoID)
	if err != nil {
		t.Fatalf("GetPhoto failed: %v", err)
	}
	if photo.JobID != nil {
		t.Fatal("expected nil jobId on solo photo")
	}
	if photo.Status != models.PhotoPending {
		t.Fatalf("expected pending photo, got %s", photo.Status)
	}
	wantKey := fmt.Sprintf("u1/%s/photo-0.jpg", photo.ID)
	if photo.StorageKey != wantKey {
		t.Fatalf("storage key = %q, want %q", photo.StorageKey, wantKey)
	}
}

func TestInitUploadBatchCreatesJobAndPhotos(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.InitUpload(ctx, "u1", descriptors(3))
	if err != nil {
		t.Fatalf("InitUpload failed: %v", err)
	}
	if result.JobID == nil {
		t.Fatal("expected jobId in batch result")
	}
	if len(result.PhotoIDs) != 3 || len(result.PresignedURLs) != 3 {
		t.Fatalf("expected 3 photos and URLs, got %d/%d", len(result.PhotoIDs), len(result.PresignedURLs))
	}

	job, err := f.store.GetJob(ctx, *result.JobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.TotalPhotos != 3 {
		t.Fatalf("totalPhotos = %d, want 3", job.TotalPhotos)
	}
	if job.Status != models.JobInProgress {
		t.Fatalf("job status = %s, want in-progress after init", job.Status)
	}
	if job.CompletedPhotos != 0 || job.FailedPhotos != 0 {
		t.Fatalf("counters should start at zero, got %d/%d", job.CompletedPhotos, job.FailedPhotos)
	}

	for _, id := range result.PhotoIDs {
		photo, err := f.store.GetPhoto(ctx, id)
		if err != nil {
			t.Fatalf("GetPhoto failed: %v", err)
		}
		if photo.JobID == nil || *photo.JobID != *result.JobID {
			t.Fatal("photo not linked to job")
		}
	}

	// A capability is only handed out for keys whose record already exists.
	issued := f.caps.IssuedKeys()
	if len(issued) != 3 {
		t.Fatalf("expected 3 presigned keys, got %d", len(issued))
	}
	for _, key := range issued {
		if !strings.HasPrefix(key, "u1/") {
			t.Fatalf("unexpected key %q", key)
		}
	}
}

func TestInitUploadValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   []models.UploadDescriptor
	}{
		{"empty", nil},
		{"over limit", descriptors(uploads.MaxBatchSize + 1)},
		{"missing filename", []models.UploadDescriptor{{Size: 1, MimeType: "image/png"}}},
		{"zero size", []models.UploadDescriptor{{Filename: "a.png", MimeType: "image/png"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.InitUpload(ctx, "u1", tc.in)
			if errs.KindOf(err) != errs.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	// Violating input must not leave partial records behind.
	photos, _ := f.store.ListPhotosByUser(ctx, "u1")
	if len(photos) != 0 {
		t.Fatalf("expected no photos after rejected inits, found %d", len(photos))
	}
}

func TestMarkCompletedSoloPhoto(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.InitUpload(ctx, "u1", descriptors(1))
	if err != nil {
		t.Fatalf("InitUpload failed: %v", err)
	}

	if err := f.svc.MarkCompleted(ctx, *result.PhotoID, "u1"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	photo, _ := f.store.GetPhoto(ctx, *result.PhotoID)
	if photo.Status != models.PhotoCompleted {
		t.Fatalf("photo status = %s, want completed", photo.Status)
	}
	if photo.URL == nil || !strings.Contains(*photo.URL, photo.StorageKey) {
		t.Fatalf("expected public URL on completed photo, got %v", photo.URL)
	}

	// No job means no progress events, but both background kinds enqueued.
	if len(f.events.all()) != 0 {
		t.Fatalf("solo photo should publish no events, got %d", len(f.events.all()))
	}
	jobs := f.queue.Snapshot()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 background jobs, got %d", len(jobs))
	}
	kinds := map[queue.Kind]bool{}
	for _, j := range jobs {
		kinds[j.Kind] = true
		if j.Payload.PhotoID != *result.PhotoID {
			t.Fatalf("payload photoId mismatch")
		}
	}
	if !kinds[queue.KindThumbnail] || !kinds[queue.KindLabels] {
		t.Fatalf("expected thumbnail and labels kinds, got %v", kinds)
	}
}

func TestMarkFailedEnqueuesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, _ := f.svc.InitUpload(ctx, "u1", descriptors(1))
	if err := f.svc.MarkFailed(ctx, *result.PhotoID, "u1"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	photo, _ := f.store.GetPhoto(ctx, *result.PhotoID)
	if photo.Status != models.PhotoFailed {
		t.Fatalf("photo status = %s, want failed", photo.Status)
	}
	if photo.URL != nil {
		t.Fatal("failed photo must not get a public URL")
	}
	if len(f.queue.Snapshot()) != 0 {
		t.Fatal("failed photo must not enqueue post-processing")
	}
}

func TestBatchMixedOutcomeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.InitUpload(ctx, "u1", descriptors(3))
	if err != nil {
		t.Fatalf("InitUpload failed: %v", err)
	}
	a, b, c := result.PhotoIDs[0], result.PhotoIDs[1], result.PhotoIDs[2]

	steps := []struct {
		act           func() error
		wantCompleted int
		wantFailed    int
		wantStatus    models.JobStatus
	}{
		{func() error { return f.svc.MarkCompleted(ctx, a, "u1") }, 1, 0, models.JobInProgress},
		{func() error { return f.svc.MarkFailed(ctx, b, "u1") }, 1, 1, models.JobInProgress},
		{func() error { return f.svc.MarkCompleted(ctx, c, "u1") }, 2, 1, models.JobCompleted},
	}
	for i, step := range steps {
		if err := step.act(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
		job, _ := f.store.GetJob(ctx, *result.JobID)
		if job.CompletedPhotos != step.wantCompleted || job.FailedPhotos != step.wantFailed {
			t.Fatalf("step %d: counters %d/%d, want %d/%d",
				i, job.CompletedPhotos, job.FailedPhotos, step.wantCompleted, step.wantFailed)
		}
		if job.Status != step.wantStatus {
			t.Fatalf("step %d: status %s, want %s", i, job.Status, step.wantStatus)
		}
	}

	events := f.events.all()
	if len(events) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(events))
	}
	last := events[2]
	if last.Status != models.JobCompleted || last.CompletedPhotos != 2 || last.FailedPhotos != 1 {
		t.Fatalf("unexpected final event: %+v", last)
	}
}

func TestBatchAllFailedIsFailedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, _ := f.svc.InitUpload(ctx, "u1", descriptors(2))
	for _, id := range result.PhotoIDs {
		if err := f.svc.MarkFailed(ctx, id, "u1"); err != nil {
			t.Fatalf("MarkFailed failed: %v", err)
		}
	}

	job, _ := f.store.GetJob(ctx, *result.JobID)
	if job.Status != models.JobFailed {
		t.Fatalf("job status = %s, want failed when every photo failed", job.Status)
	}
}

func TestMarkCompletedIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, _ := f.svc.InitUpload(ctx, "u1", descriptors(2))
	id := result.PhotoIDs[0]

	for i := 0; i < 3; i++ {
		if err := f.svc.MarkCompleted(ctx, id, "u1"); err != nil {
			t.Fatalf("MarkCompleted call %d failed: %v", i, err)
		}
	}

	job, _ := f.store.GetJob(ctx, *result.JobID)
	if job.CompletedPhotos != 1 {
		t.Fatalf("completedPhotos = %d after repeats, want 1", job.CompletedPhotos)
	}
	if got := len(f.events.all()); got != 1 {
		t.Fatalf("expected 1 progress event after repeats, got %d", got)
	}
	// Repeat calls must not duplicate background work either.
	if got := len(f.queue.Snapshot()); got != 2 {
		t.Fatalf("expected 2 background jobs after repeats, got %d", got)
	}
}

func TestMarkCompletedOwnershipAndExistence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, _ := f.svc.InitUpload(ctx, "u1", descriptors(1))

	if err := f.svc.MarkCompleted(ctx, *result.PhotoID, "intruder"); errs.KindOf(err) != errs.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := f.svc.MarkCompleted(ctx, uuid.New(), "u1"); errs.KindOf(err) != errs.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	photo, _ := f.store.GetPhoto(ctx, *result.PhotoID)
	if photo.Status != models.PhotoPending {
		t.Fatalf("rejected calls must not change status, got %s", photo.Status)
	}
}

func TestConcurrentCompletionsLoseNoIncrements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 50
	result, err := f.svc.InitUpload(ctx, "u1", descriptors(n))
	if err != nil {
		t.Fatalf("InitUpload failed: %v", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for _, id := range result.PhotoIDs {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if err := f.svc.MarkCompleted(ctx, id, "u1"); err != nil {
				errCh <- err
			}
		}(id)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent MarkCompleted failed: %v", err)
	}

	job, _ := f.store.GetJob(ctx, *result.JobID)
	if job.CompletedPhotos != n {
		t.Fatalf("completedPhotos = %d, want %d (lost increments)", job.CompletedPhotos, n)
	}
	if job.Status != models.JobCompleted {
		t.Fatalf("job status = %s, want completed", job.Status)
	}

	// Every observed event respects the counter bound.
	for _, ev := range f.events.all() {
		if sum := ev.CompletedPhotos + ev.FailedPhotos; sum < 0 || sum > ev.TotalPhotos {
			t.Fatalf("event violates counter bound: %+v", ev)
		}
	}
}
