package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testAPIServer(t *testing.T) *APIServer {
	t.Helper()
	server := pngTileServer(t)
	t.Cleanup(server.Close)

	fetcher := NewTileFetcher(server.URL+"/{z}/{x}/{y}.png", "test-agent")
	det := &fixtureDetector{boxes: []DetectedBox{{MinX: 10, MinY: 10, MaxX: 100, MaxY: 100, Confidence: 0.9}}}
	cfg := &Config{
		Jobs:      JobsConfig{WorkDir: t.TempDir(), MaxConcurrentJobs: 1},
		Detection: DetectionConfig{JobIDMinLength: 3, JobIDMaxLength: 50, DefaultZoom: 18, DefaultConfidence: 0.5},
	}
	jobs := NewJobManager(cfg)
	orchestrator := NewOrchestrator(fetcher, det, cfg, jobs)
	return NewAPIServer(jobs, orchestrator, nil, nil, cfg)
}

func polygonBody() []byte {
	body := map[string]interface{}{
		"polygon": map[string]interface{}{
			"type":        "Polygon",
			"coordinates": [][][]float64{{{-122.43, 37.76}, {-122.40, 37.76}, {-122.40, 37.79}, {-122.43, 37.79}, {-122.43, 37.76}}},
		},
	}
	data, _ := json.Marshal(body)
	return data
}

func TestHandleHealth(t *testing.T) {
	s := testAPIServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestHandleDetectSyncSucceeds(t *testing.T) {
	s := testAPIServer(t)
	req := httptest.NewRequest(http.MethodPost, "/detect/sync", bytes.NewReader(polygonBody()))
	w := httptest.NewRecorder()
	s.handleDetectSync(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleDetectSyncRejectsBadJSON(t *testing.T) {
	s := testAPIServer(t)
	req := httptest.NewRequest(http.MethodPost, "/detect/sync", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	s.handleDetectSync(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", w.Code)
	}
	var envelope apiError
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("expected a structured error envelope: %v", err)
	}
	if envelope.Type != "validation_error" {
		t.Errorf("expected validation_error type, got %q", envelope.Type)
	}
}

func TestHandleDetectAsyncThenPoll(t *testing.T) {
	s := testAPIServer(t)
	req := httptest.NewRequest(http.MethodPost, "/detect/async", bytes.NewReader(polygonBody()))
	w := httptest.NewRecorder()
	s.handleDetectAsync(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	jobID := resp["job_id"]
	if jobID == "" {
		t.Fatal("expected a job_id in the response")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/job/"+jobID, nil)
	getW := httptest.NewRecorder()
	s.handleJobByID(getW, getReq)
	if getW.Code != http.StatusOK {
		t.Errorf("expected 200 polling job status, got %d", getW.Code)
	}
}

func TestHandleJobByIDNotFound(t *testing.T) {
	s := testAPIServer(t)
	req := httptest.NewRequest(http.MethodGet, "/job/does-not-exist", nil)
	w := httptest.NewRecorder()
	s.handleJobByID(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleListJobsReturnsEnvelope(t *testing.T) {
	s := testAPIServer(t)
	first, err := s.jobs.Create(PolygonRequest{JobID: "job-one"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.jobs.Complete(first.JobID, nil)
	second, err := s.jobs.Create(PolygonRequest{JobID: "job-two"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second.StartTime = first.StartTime.Add(1)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	w := httptest.NewRecorder()
	s.handleListJobs(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var envelope struct {
		Total         int          `json:"total"`
		Active        int          `json:"active"`
		MaxConcurrent int          `json:"max_concurrent"`
		Jobs          []JobSummary `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("expected a structured list envelope: %v", err)
	}
	if envelope.Total != 2 {
		t.Errorf("expected total 2, got %d", envelope.Total)
	}
	if envelope.MaxConcurrent != 1 {
		t.Errorf("expected max_concurrent 1, got %d", envelope.MaxConcurrent)
	}
	if len(envelope.Jobs) != 2 || envelope.Jobs[0].JobID != "job-two" {
		t.Errorf("expected job-two listed first (newest), got %+v", envelope.Jobs)
	}
}

func TestGetJobReturnsStatusResponseFields(t *testing.T) {
	s := testAPIServer(t)
	job, err := s.jobs.Create(PolygonRequest{JobID: "status-job"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.jobs.UpdateProgress(job.JobID, "detecting", 42, 3)

	w := httptest.NewRecorder()
	s.getJob(w, job.JobID)

	var resp JobStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.BuildingsFound != 3 {
		t.Errorf("expected buildings_found 3, got %d", resp.BuildingsFound)
	}
	if resp.EstimatedTimeRemaining == nil {
		t.Error("expected estimated_time_remaining to be set above 5% progress")
	}
}

func TestGetJobResultReturns422ForFailedJob(t *testing.T) {
	s := testAPIServer(t)
	job, err := s.jobs.Create(PolygonRequest{JobID: "failing-job"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.jobs.Fail(job.JobID, context.DeadlineExceeded)

	w := httptest.NewRecorder()
	s.getJobResult(w, job.JobID)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a failed job's result, got %d: %s", w.Code, w.Body.String())
	}
	var envelope apiError
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("expected a structured error envelope: %v", err)
	}
	if envelope.Type != "processing_error" {
		t.Errorf("expected processing_error type, got %q", envelope.Type)
	}
}

func TestHandleDetectSyncRejectsInvalidGeometry(t *testing.T) {
	s := testAPIServer(t)
	body := map[string]interface{}{
		"polygon": map[string]interface{}{
			"type":        "Polygon",
			"coordinates": [][][]float64{{{-122.43, 37.76}, {-122.40, 37.79}, {-122.43, 37.76}}},
		},
	}
	data, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/detect/sync", bytes.NewReader(data))
	w := httptest.NewRecorder()
	s.handleDetectSync(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a degenerate polygon, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleDetectSyncAtCapacityReturns429(t *testing.T) {
	s := testAPIServer(t) // MaxConcurrentJobs: 1

	if _, err := s.jobs.Create(PolygonRequest{JobID: "holding-slot"}); err != nil {
		t.Fatalf("unexpected error occupying the only slot: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/detect/sync", bytes.NewReader(polygonBody()))
	w := httptest.NewRecorder()
	s.handleDetectSync(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 at capacity, got %d: %s", w.Code, w.Body.String())
	}
}
