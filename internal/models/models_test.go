package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestDeriveJobStatus(t *testing.T) {
	cases := []struct {
		name                     string
		completed, failed, total int
		want                     JobStatus
	}{
		{"nothing resolved yet", 0, 0, 3, JobInProgress},
		{"partial progress", 1, 1, 3, JobInProgress},
		{"one short of total", 2, 0, 3, JobInProgress},
		{"all completed", 3, 0, 3, JobCompleted},
		{"all failed", 0, 3, 3, JobFailed},
		{"mixed outcome is completed", 2, 1, 3, JobCompleted},
		{"last photo fails but earlier succeeded", 1, 2, 3, JobCompleted},
		{"single photo failed", 0, 1, 1, JobFailed},
		{"single photo completed", 1, 0, 1, JobCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveJobStatus(tc.completed, tc.failed, tc.total); got != tc.want {
				t.Fatalf("DeriveJobStatus(%d, %d, %d) = %q, want %q",
					tc.completed, tc.failed, tc.total, got, tc.want)
			}
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	if JobPending.Terminal() || JobInProgress.Terminal() {
		t.Fatal("pending and in-progress must not be terminal")
	}
	if !JobCompleted.Terminal() || !JobFailed.Terminal() {
		t.Fatal("completed and failed must be terminal")
	}
}

func TestProgressEventWireFormat(t *testing.T) {
	job := &UploadJob{
		ID:              uuid.MustParse("4f6b4f1e-1a4a-4c2e-9a62-000000000001"),
		UserID:          "u1",
		TotalPhotos:     3,
		CompletedPhotos: 2,
		FailedPhotos:    1,
		Status:          JobCompleted,
	}

	raw, err := json.Marshal(job.Progress())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"jobId", "completedPhotos", "failedPhotos", "totalPhotos", "status"} {
		if _, ok := got[key]; !ok {
			t.Fatalf("wire event missing %q: %s", key, raw)
		}
	}
	if got["status"] != "completed" {
		t.Fatalf("status = %v", got["status"])
	}
}

// The status enumeration is part of the wire contract; consumers match on
// these exact tokens.
func TestJobStatusWireTokens(t *testing.T) {
	want := map[JobStatus]string{
		JobPending:    "pending",
		JobInProgress: "in-progress",
		JobCompleted:  "completed",
		JobFailed:     "failed",
	}
	for status, token := range want {
		if string(status) != token {
			t.Fatalf("status token = %q, want %q", status, token)
		}
	}
}
