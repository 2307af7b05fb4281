package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"photoflow/internal/errs"
	"photoflow/internal/models"
	"photoflow/internal/progress"
	"photoflow/internal/queue"
	"photoflow/internal/stream"
	"photoflow/internal/testsupport"
	"photoflow/internal/uploads"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *testsupport.Store) {
	t.Helper()

	store := testsupport.NewStore()
	caps := &testsupport.Caps{}
	notifier := progress.NewNotifier(slog.Default())
	jobs := queue.NewMemStore(queue.Policy{})
	svc := uploads.NewService(store, store, caps, notifier, jobs, slog.Default(), time.Hour)
	streams := stream.NewServer(store, notifier, time.Minute, slog.Default())

	cfg := &models.Config{ServerAddr: ":0"}
	return New(cfg, svc, streams, store, caps, slog.Default()), store
}

func doJSON(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireUserHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/photos", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHealthzNeedsNoUser(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestUploadLifecycleOverHTTP(t *testing.T) {
	srv, store := newTestServer(t)
	h := srv.Handler()

	body := map[string]any{"files": []models.UploadDescriptor{
		{Filename: "a.jpg", Size: 100, MimeType: "image/jpeg"},
		{Filename: "b.jpg", Size: 200, MimeType: "image/jpeg"},
	}}
	rec := doJSON(t, h, http.MethodPost, "/api/uploads", "u1", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("init status = %d, body %s", rec.Code, rec.Body)
	}

	var init struct {
		JobID    uuid.UUID `json:"jobId"`
		PhotoIDs []string  `json:"photoIds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &init); err != nil {
		t.Fatalf("decode init: %v", err)
	}
	if len(init.PhotoIDs) != 2 {
		t.Fatalf("photoIds = %v", init.PhotoIDs)
	}

	// Complete one photo and read the job snapshot back.
	rec = doJSON(t, h, http.MethodPost, "/api/photos/"+init.PhotoIDs[0]+"/complete", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d, body %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/jobs/"+init.JobID.String(), "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("job status = %d, body %s", rec.Code, rec.Body)
	}
	var snapshot models.ProgressEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.CompletedPhotos != 1 || snapshot.TotalPhotos != 2 {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	if snapshot.Status != models.JobInProgress {
		t.Fatalf("status = %q", snapshot.Status)
	}

	// Other users cannot complete or inspect the batch.
	rec = doJSON(t, h, http.MethodPost, "/api/photos/"+init.PhotoIDs[1]+"/complete", "intruder", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-user complete status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/jobs/"+init.JobID.String(), "intruder", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-user job status = %d", rec.Code)
	}

	ctx := context.Background()
	id := uuid.MustParse(init.PhotoIDs[0])
	photo, err := store.GetPhoto(ctx, id)
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if photo.Status != models.PhotoCompleted {
		t.Fatalf("photo status = %q", photo.Status)
	}
}

func TestDownloadURLChecksOwnership(t *testing.T) {
	srv, store := newTestServer(t)
	h := srv.Handler()

	photo := &models.Photo{
		ID:         uuid.New(),
		UserID:     "u1",
		Filename:   "beach.jpg",
		StorageKey: "u1/x/beach.jpg",
		Status:     models.PhotoCompleted,
	}
	if err := store.CreatePhoto(context.Background(), photo); err != nil {
		t.Fatalf("CreatePhoto: %v", err)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/photos/"+photo.ID.String()+"/download", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		DownloadURL string `json:"downloadUrl"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DownloadURL == "" {
		t.Fatal("empty download URL")
	}

	rec = doJSON(t, h, http.MethodGet, "/api/photos/"+photo.ID.String()+"/download", "intruder", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-user status = %d", rec.Code)
	}
}

func TestInvalidIDsAreRejectedEarly(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	for _, path := range []string{
		"/api/photos/not-a-uuid/complete",
		"/api/jobs/not-a-uuid",
	} {
		rec := doJSON(t, h, http.MethodPost, path, "u1", nil)
		if path == "/api/jobs/not-a-uuid" {
			rec = doJSON(t, h, http.MethodGet, path, "u1", nil)
		}
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errs.New(errs.KindNotFound, "op", "gone"), http.StatusNotFound},
		{errs.New(errs.KindForbidden, "op", "nope"), http.StatusForbidden},
		{errs.New(errs.KindValidation, "op", "bad"), http.StatusBadRequest},
		{errs.New(errs.KindStorageUnavailable, "op", "s3 down"), http.StatusBadGateway},
		{errs.New(errs.KindExternalService, "op", "labels down"), http.StatusBadGateway},
		{errs.New(errs.KindPersistence, "op", "db"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
