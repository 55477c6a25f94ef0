package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// APIServer handles HTTP requests for the building detection service.
type APIServer struct {
	jobs         *JobManager
	orchestrator *Orchestrator
	history      *History
	archive      *Archiver
	config       *Config
}

// NewAPIServer wires together the job manager, orchestrator, and the
// optional history/archive sinks into an HTTP handler.
func NewAPIServer(jobs *JobManager, orchestrator *Orchestrator, history *History, archive *Archiver, config *Config) *APIServer {
	return &APIServer{
		jobs:         jobs,
		orchestrator: orchestrator,
		history:      history,
		archive:      archive,
		config:       config,
	}
}

// apiError is the structured error envelope returned for every non-2xx
// response.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Type    string `json:"type"`
}

func writeError(w http.ResponseWriter, status int, errType, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{
		Error:   http.StatusText(status),
		Message: message,
		Detail:  detail,
		Type:    errType,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Start registers routes and blocks serving HTTP on the configured port.
func (s *APIServer) Start(port int) error {
	http.HandleFunc("/health", s.handleHealth)
	http.HandleFunc("/", s.handleRoot)
	http.HandleFunc("/detect/sync", s.handleDetectSync)
	http.HandleFunc("/detect/async", s.handleDetectAsync)
	http.HandleFunc("/jobs", s.handleListJobs)
	http.HandleFunc("/job/", s.handleJobByID)

	addr := fmt.Sprintf(":%d", port)
	slog.Info("starting API server", "port", port)
	return http.ListenAndServe(addr, nil)
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *APIServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "building-detection-service",
		"status":  "running",
	})
}

// handleDetectSync handles POST /detect/sync: runs the full pipeline
// inline and returns the building list once it finishes. Intended for
// small areas of interest where the caller is willing to block.
func (s *APIServer) handleDetectSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "validation_error", "method not allowed", "")
		return
	}

	var req PolygonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body", err.Error())
		return
	}
	req.ApplyDefaults(s.config)

	job, err := s.jobs.Create(req)
	if err != nil {
		s.writeCreateError(w, err)
		return
	}

	buildings, err := s.orchestrator.Run(r.Context(), job.JobID, req)
	s.finishJob(r.Context(), job.JobID, buildings, err)

	if err != nil {
		s.writeDetectError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":          job.JobID,
		"buildings":       buildings,
		"total_buildings": len(buildings),
		"execution_time":  job.ExecutionTime,
	})
}

// writeDetectError maps an orchestrator run error to a status/type pair:
// cancellation maps to 410, a malformed polygon to 400, and anything else
// to the detector-unavailable 503 since by far the most common failure
// past parsing is the inference backend.
func (s *APIServer) writeDetectError(w http.ResponseWriter, err error) {
	switch {
	case err == context.Canceled:
		writeError(w, http.StatusGone, "cancelled", "job was cancelled", "")
	case errors.Is(err, ErrInvalidGeometry):
		writeError(w, http.StatusBadRequest, "validation_error", "invalid polygon", err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, "model_error", "detection failed", err.Error())
	}
}

// handleDetectAsync handles POST /detect/async: creates a job and runs
// the pipeline in a background goroutine, returning immediately with the
// job id so the caller can poll /job/{job_id} or stream /job/{job_id}/stream.
func (s *APIServer) handleDetectAsync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "validation_error", "method not allowed", "")
		return
	}

	var req PolygonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body", err.Error())
		return
	}
	req.ApplyDefaults(s.config)

	if _, err := ExtractRings(req.Polygon); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid polygon", err.Error())
		return
	}

	job, err := s.jobs.Create(req)
	if err != nil {
		s.writeCreateError(w, err)
		return
	}

	go func() {
		ctx := context.Background()
		buildings, err := s.orchestrator.Run(ctx, job.JobID, req)
		s.finishJob(ctx, job.JobID, buildings, err)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":       job.JobID,
		"status":       string(JobQueued),
		"submitted_at": job.StartTime.Format(time.RFC3339),
	})
}

func (s *APIServer) writeCreateError(w http.ResponseWriter, err error) {
	if err == ErrAtCapacity {
		writeError(w, http.StatusTooManyRequests, "capacity_error", "maximum concurrent jobs reached", "")
		return
	}
	writeError(w, http.StatusBadRequest, "validation_error", err.Error(), "")
}

// finishJob marks a job completed or failed, records it to history, and
// archives the result, all best-effort: history and archive failures are
// logged but never surface to the HTTP caller, since the job itself
// already succeeded or failed on its own terms.
func (s *APIServer) finishJob(ctx context.Context, jobID string, buildings []Building, runErr error) {
	if runErr == context.Canceled {
		s.jobs.MarkCancelled(jobID)
	} else if runErr != nil {
		s.jobs.Fail(jobID, runErr)
	} else {
		s.jobs.Complete(jobID, buildings)
	}

	job, ok := s.jobs.Get(jobID)
	if !ok {
		return
	}

	if err := s.history.RecordTerminal(ctx, job); err != nil {
		slog.Warn("failed to record job history", "job_id", jobID, "error", err)
	}
	if runErr == nil {
		if err := s.archive.Upload(ctx, jobID, buildings); err != nil {
			slog.Warn("failed to archive job result", "job_id", jobID, "error", err)
		}
	}
}

// handleListJobs handles GET /jobs.
func (s *APIServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "validation_error", "method not allowed", "")
		return
	}
	jobs := s.jobs.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":          len(jobs),
		"active":         s.jobs.ActiveCount(),
		"max_concurrent": s.jobs.MaxConcurrent(),
		"jobs":           jobs,
	})
}

// handleJobByID dispatches GET/DELETE /job/{job_id}, GET
// /job/{job_id}/result, and GET /job/{job_id}/stream based on the path
// suffix after the job id.
func (s *APIServer) handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/job/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "job_id is required", "")
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	jobID := parts[0]
	suffix := ""
	if len(parts) == 2 {
		suffix = parts[1]
	}

	switch {
	case suffix == "" && r.Method == http.MethodGet:
		s.getJob(w, jobID)
	case suffix == "" && r.Method == http.MethodDelete:
		s.cancelJob(w, jobID)
	case suffix == "result" && r.Method == http.MethodGet:
		s.getJobResult(w, jobID)
	case suffix == "stream" && r.Method == http.MethodGet:
		s.streamJob(w, r, jobID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "validation_error", "method not allowed", "")
	}
}

func (s *APIServer) getJob(w http.ResponseWriter, jobID string) {
	job, ok := s.jobs.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job_error", "job not found", jobID)
		return
	}
	writeJSON(w, http.StatusOK, NewJobStatusResponse(job))
}

func (s *APIServer) getJobResult(w http.ResponseWriter, jobID string) {
	job, ok := s.jobs.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job_error", "job not found", jobID)
		return
	}

	switch job.Status {
	case JobCompleted:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":          job.JobID,
			"status":          job.Status,
			"buildings":       job.Result,
			"total_buildings": len(job.Result),
			"execution_time":  job.ExecutionTime,
		})
	case JobFailed:
		writeError(w, http.StatusUnprocessableEntity, "processing_error", "job failed", job.ErrorMessage)
	case JobCancelled:
		writeError(w, http.StatusGone, "cancelled", "job was cancelled", "")
	default:
		writeError(w, http.StatusAccepted, "job_error", "job is still in progress", string(job.Status))
	}
}

func (s *APIServer) cancelJob(w http.ResponseWriter, jobID string) {
	if _, ok := s.jobs.Get(jobID); !ok {
		writeError(w, http.StatusNotFound, "job_error", "job not found", jobID)
		return
	}
	if err := s.jobs.Cancel(jobID); err != nil {
		writeError(w, http.StatusConflict, "conflict", "could not cancel job", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "cancelling"})
}

// streamJob handles GET /job/{job_id}/stream via Server-Sent Events,
// polling job state and pushing updates until the job reaches a terminal
// state or the client disconnects.
func (s *APIServer) streamJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, ok := s.jobs.Get(jobID); !ok {
		writeError(w, http.StatusNotFound, "job_error", "job not found", jobID)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "server_error", "streaming not supported", "")
		return
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	var lastProgress = -1
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-ticker.C:
			job, ok := s.jobs.Get(jobID)
			if !ok {
				return
			}
			if job.Progress == lastProgress && job.Status == JobProcessing {
				continue
			}
			lastProgress = job.Progress

			data, err := json.Marshal(NewJobStatusResponse(job))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

			if job.Status == JobCompleted || job.Status == JobFailed || job.Status == JobCancelled {
				return
			}
		}
	}
}
