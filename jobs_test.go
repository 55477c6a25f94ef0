package main

import (
	"testing"
	"time"
)

func testConfig() *Config {
	return &Config{
		Detection: DetectionConfig{
			JobIDMinLength: 3,
			JobIDMaxLength: 50,
		},
		Jobs: JobsConfig{
			MaxConcurrentJobs: 2,
		},
	}
}

func TestJobManagerEnforcesConcurrencyCap(t *testing.T) {
	mgr := NewJobManager(testConfig())

	if _, err := mgr.Create(PolygonRequest{}); err != nil {
		t.Fatalf("unexpected error creating first job: %v", err)
	}
	if _, err := mgr.Create(PolygonRequest{}); err != nil {
		t.Fatalf("unexpected error creating second job: %v", err)
	}
	if _, err := mgr.Create(PolygonRequest{}); err != ErrAtCapacity {
		t.Fatalf("expected ErrAtCapacity on third job, got %v", err)
	}
}

func TestJobManagerCompletingJobFreesCapacity(t *testing.T) {
	mgr := NewJobManager(testConfig())

	job, err := mgr.Create(PolygonRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mgr.Complete(job.JobID, nil)

	if _, err := mgr.Create(PolygonRequest{}); err != nil {
		t.Fatalf("expected capacity to be freed after completion, got %v", err)
	}
}

func TestJobManagerCancelQueuedJobGoesStraightToCancelled(t *testing.T) {
	mgr := NewJobManager(testConfig())

	job, err := mgr.Create(PolygonRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mgr.Cancel(job.JobID); err != nil {
		t.Fatalf("unexpected error cancelling: %v", err)
	}

	got, _ := mgr.Get(job.JobID)
	if got.Status != JobCancelled {
		t.Errorf("expected queued job to transition straight to cancelled, got %s", got.Status)
	}
}

func TestJobManagerCancelTerminalJobIsConflict(t *testing.T) {
	mgr := NewJobManager(testConfig())

	job, _ := mgr.Create(PolygonRequest{})
	mgr.Complete(job.JobID, nil)

	if err := mgr.Cancel(job.JobID); err == nil {
		t.Error("expected an error cancelling an already-terminal job")
	}
}

func TestJobManagerCancelProcessingJobSetsFlagOnly(t *testing.T) {
	mgr := NewJobManager(testConfig())

	job, _ := mgr.Create(PolygonRequest{})
	mgr.UpdateProgress(job.JobID, "detecting", 50, 0)

	if err := mgr.Cancel(job.JobID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mgr.IsCancelled(job.JobID) {
		t.Error("expected cancelRequested flag to be set for a processing job")
	}

	got, _ := mgr.Get(job.JobID)
	if got.Status != JobProcessing {
		t.Errorf("expected status to remain processing until the orchestrator observes cancellation, got %s", got.Status)
	}
}

func TestJobManagerRejectsDuplicateCustomID(t *testing.T) {
	mgr := NewJobManager(testConfig())

	if _, err := mgr.Create(PolygonRequest{JobID: "custom-job"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := mgr.Create(PolygonRequest{JobID: "custom-job"}); err == nil {
		t.Error("expected an error creating a job with a duplicate id")
	}
}

func TestJobManagerRejectsOutOfBoundsCustomID(t *testing.T) {
	mgr := NewJobManager(testConfig())
	if _, err := mgr.Create(PolygonRequest{JobID: "ab"}); err == nil {
		t.Error("expected an error for a job id shorter than the configured minimum")
	}
}

func TestJobManagerRejectsBoundaryCharCustomID(t *testing.T) {
	mgr := NewJobManager(testConfig())
	if _, err := mgr.Create(PolygonRequest{JobID: "-abc"}); err == nil {
		t.Error("expected an error for a job id starting with a non-alphanumeric character")
	}
}

func TestJobManagerRejectsBadCharsetCustomID(t *testing.T) {
	mgr := NewJobManager(testConfig())
	if _, err := mgr.Create(PolygonRequest{JobID: "bad id!"}); err == nil {
		t.Error("expected an error for a job id containing characters outside [A-Za-z0-9_-]")
	}
}

func TestJobManagerAcceptsValidCustomID(t *testing.T) {
	mgr := NewJobManager(testConfig())
	if _, err := mgr.Create(PolygonRequest{JobID: "a_b-c1"}); err != nil {
		t.Errorf("expected a_b-c1 to be accepted, got %v", err)
	}
}

func TestJobManagerListIsSortedNewestFirst(t *testing.T) {
	mgr := NewJobManager(testConfig())
	first, _ := mgr.Create(PolygonRequest{JobID: "aaa"})
	mgr.Complete("aaa", nil)
	second, _ := mgr.Create(PolygonRequest{JobID: "bbb"})
	second.StartTime = first.StartTime.Add(time.Second)

	list := mgr.List()
	if len(list) != 2 || list[0].JobID != "bbb" || list[1].JobID != "aaa" {
		t.Errorf("expected jobs sorted newest first, got %+v", list)
	}
}

func TestJobManagerActiveCountAndMaxConcurrent(t *testing.T) {
	mgr := NewJobManager(testConfig())
	mgr.Create(PolygonRequest{})
	if mgr.ActiveCount() != 1 {
		t.Errorf("expected active count 1, got %d", mgr.ActiveCount())
	}
	if mgr.MaxConcurrent() != 2 {
		t.Errorf("expected max concurrent 2, got %d", mgr.MaxConcurrent())
	}
}
