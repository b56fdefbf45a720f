package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func jobStatus(t *testing.T, s *Store, id string) (status string, attempts int) {
	t.Helper()
	err := s.db.QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, id).Scan(&status, &attempts)
	if err != nil {
		t.Fatalf("reading job %s: %v", id, err)
	}
	return status, attempts
}

func TestEnqueueAndClaim(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: uuid.NewString(), Type: JobTypeConsolidate, PayloadJSON: `{"individual":"mirek"}`}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{JobTypeConsolidate})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a job, got nil")
	}
	if claimed.ID != job.ID {
		t.Errorf("claimed ID = %s, want %s", claimed.ID, job.ID)
	}
	if claimed.Status != "running" {
		t.Errorf("claimed status = %q, want running", claimed.Status)
	}
	if claimed.PayloadJSON != job.PayloadJSON {
		t.Errorf("payload = %q", claimed.PayloadJSON)
	}
	if claimed.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want default 3", claimed.MaxAttempts)
	}

	// A running job cannot be claimed again.
	again, err := s.ClaimNextJob([]string{JobTypeConsolidate})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("claimed an already-running job: %+v", again)
	}
}

func TestClaimEmptyQueue(t *testing.T) {
	s := openTestStore(t)

	job, err := s.ClaimNextJob([]string{JobTypeConsolidate})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil on empty queue, got %+v", job)
	}

	job, err = s.ClaimNextJob(nil)
	if err != nil || job != nil {
		t.Errorf("ClaimNextJob(nil) = %+v, %v", job, err)
	}
}

func TestClaimFiltersOnType(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: uuid.NewString(), Type: "other_work", PayloadJSON: "{}"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	job, err := s.ClaimNextJob([]string{JobTypeConsolidate})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Errorf("claimed job of wrong type: %+v", job)
	}
}

func TestClaimSkipsFutureJobs(t *testing.T) {
	s := openTestStore(t)

	job := Job{
		ID:          uuid.NewString(),
		Type:        JobTypeConsolidate,
		PayloadJSON: "{}",
		RunAfter:    time.Now().UTC().Add(time.Hour),
	}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{JobTypeConsolidate})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed a job scheduled for the future: %+v", claimed)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: uuid.NewString(), Type: JobTypeConsolidate, PayloadJSON: "{}"}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{JobTypeConsolidate}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	if err := s.CompleteJob(job.ID); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	status, _ := jobStatus(t, s, job.ID)
	if status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}

	if err := s.CompleteJob("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteJob of missing id: err = %v, want ErrNotFound", err)
	}
}

// TestFailJobRetries verifies a failed job goes back to pending with a
// backoff until max_attempts, then stays failed.
func TestFailJobRetries(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: uuid.NewString(), Type: JobTypeConsolidate, PayloadJSON: "{}", MaxAttempts: 2}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{JobTypeConsolidate}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	if err := s.FailJob(job.ID, "ollama unreachable"); err != nil {
		t.Fatalf("first FailJob: %v", err)
	}
	status, attempts := jobStatus(t, s, job.ID)
	if status != "pending" || attempts != 1 {
		t.Errorf("after first failure: status = %q attempts = %d, want pending/1", status, attempts)
	}

	// The retry is scheduled in the future, so it is not claimable yet.
	claimed, err := s.ClaimNextJob([]string{JobTypeConsolidate})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed != nil {
		t.Errorf("claimed job inside backoff window: %+v", claimed)
	}

	if err := s.FailJob(job.ID, "ollama unreachable"); err != nil {
		t.Fatalf("second FailJob: %v", err)
	}
	status, attempts = jobStatus(t, s, job.ID)
	if status != "failed" || attempts != 2 {
		t.Errorf("after final failure: status = %q attempts = %d, want failed/2", status, attempts)
	}

	var lastError string
	if err := s.db.QueryRow(`SELECT last_error FROM jobs WHERE id = ?`, job.ID).Scan(&lastError); err != nil {
		t.Fatalf("reading last_error: %v", err)
	}
	if lastError != "ollama unreachable" {
		t.Errorf("last_error = %q", lastError)
	}
}

func TestFailJobMissing(t *testing.T) {
	s := openTestStore(t)

	if err := s.FailJob("no-such-id", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FailJob of missing id: err = %v, want ErrNotFound", err)
	}
}

func TestClaimOrderOldestFirst(t *testing.T) {
	s := openTestStore(t)

	past := time.Now().UTC().Add(-2 * time.Hour)
	first := Job{ID: uuid.NewString(), Type: JobTypeConsolidate, PayloadJSON: `{"n":1}`, RunAfter: past}
	second := Job{ID: uuid.NewString(), Type: JobTypeConsolidate, PayloadJSON: `{"n":2}`, RunAfter: past.Add(time.Minute)}

	// Enqueue newest first to make sure ordering comes from run_after.
	if err := s.EnqueueJob(second); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}
	if err := s.EnqueueJob(first); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{JobTypeConsolidate})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Errorf("claimed %+v, want the earliest run_after", claimed)
	}
}
