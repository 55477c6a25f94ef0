package main

import (
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// JobManager tracks in-flight and completed detection jobs in memory and
// enforces the configured concurrency cap. It is the single source of
// truth for job state; the HTTP layer never mutates a Job directly.
type JobManager struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	cfg    *Config
	active int // jobs currently queued or processing, counted against MaxConcurrentJobs
}

// NewJobManager creates an empty job manager.
func NewJobManager(cfg *Config) *JobManager {
	return &JobManager{
		jobs: make(map[string]*Job),
		cfg:  cfg,
	}
}

// ErrAtCapacity is returned by Create when the concurrency cap has been
// reached. The HTTP layer maps this to a 429 response rather than
// queuing the request, matching the original's immediate-rejection
// capacity check rather than a buffered job queue.
var ErrAtCapacity = fmt.Errorf("maximum concurrent jobs reached")

// Create registers a new job, generating a uuid when req.JobID is empty,
// and validating a caller-supplied id's length and format. Returns
// ErrAtCapacity if the concurrency cap is already reached; the caller
// does not queue past capacity.
func (m *JobManager) Create(req PolygonRequest) (*Job, error) {
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	} else if err := validateJobID(jobID, m.cfg.Detection.JobIDMinLength, m.cfg.Detection.JobIDMaxLength); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[jobID]; exists {
		return nil, fmt.Errorf("job %s already exists", jobID)
	}
	if m.active >= m.cfg.Jobs.MaxConcurrentJobs {
		return nil, ErrAtCapacity
	}

	job := &Job{
		JobID:     jobID,
		Status:    JobQueued,
		Stage:     "queued",
		StartTime: time.Now(),
		Request:   req,
	}
	m.jobs[jobID] = job
	m.active++
	return job, nil
}

// validateJobID checks a caller-supplied job id against the format the
// original enforces: length within [min, max], every character in
// [A-Za-z0-9_-], and the first and last characters alphanumeric (so an
// id can't start or end with - or _).
func validateJobID(jobID string, minLen, maxLen int) error {
	if len(jobID) < minLen || len(jobID) > maxLen {
		return fmt.Errorf("job_id must be between %d and %d characters", minLen, maxLen)
	}
	for _, r := range jobID {
		if !isJobIDChar(r) {
			return fmt.Errorf("job_id must contain only letters, digits, '_', and '-'")
		}
	}
	runes := []rune(jobID)
	if !isAlphanumeric(runes[0]) || !isAlphanumeric(runes[len(runes)-1]) {
		return fmt.Errorf("job_id must start and end with a letter or digit")
	}
	return nil
}

func isJobIDChar(r rune) bool {
	return isAlphanumeric(r) || r == '_' || r == '-'
}

func isAlphanumeric(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Get returns the job with the given id, or (nil, false) if unknown.
func (m *JobManager) Get(jobID string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	return job, ok
}

// List returns a snapshot of every known job, newest first.
func (m *JobManager) List() []JobSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]JobSummary, 0, len(m.jobs))
	for _, job := range m.jobs {
		summaries = append(summaries, JobSummary{
			JobID:    job.JobID,
			Status:   job.Status,
			Progress: job.Progress,
			Stage:    job.Stage,
			started:  job.StartTime,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].started.After(summaries[j].started) })
	return summaries
}

// ActiveCount returns the number of jobs currently counted against the
// concurrency cap (queued or processing).
func (m *JobManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// MaxConcurrent returns the configured concurrency cap.
func (m *JobManager) MaxConcurrent() int {
	return m.cfg.Jobs.MaxConcurrentJobs
}

// UpdateProgress advances a job's stage/progress/buildings-found fields.
// Called by the orchestrator as it moves through detection stages.
func (m *JobManager) UpdateProgress(jobID, stage string, progress, buildingsFound int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return
	}
	job.Status = JobProcessing
	job.Stage = stage
	job.Progress = progress
	job.BuildingsFound = buildingsFound
}

// Complete marks a job finished successfully with its result set.
func (m *JobManager) Complete(jobID string, result []Building) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return
	}
	job.Status = JobCompleted
	job.Stage = "completed"
	job.Progress = 100
	job.Result = result
	job.BuildingsFound = len(result)
	job.ExecutionTime = time.Since(job.StartTime).Seconds()
	m.active--
}

// Fail marks a job finished with an error.
func (m *JobManager) Fail(jobID string, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return
	}
	job.Status = JobFailed
	job.Stage = "failed"
	job.ErrorMessage = cause.Error()
	job.ExecutionTime = time.Since(job.StartTime).Seconds()
	m.active--
}

// Cancel requests cancellation of a job. A queued job is cancelled
// immediately since no work has started; a processing job is flagged and
// the orchestrator observes cancelRequested between stages and unwinds.
// Cancelling an already-terminal job is a conflict, matching the
// original's 409-on-terminal-cancel behavior.
func (m *JobManager) Cancel(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}

	switch job.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return fmt.Errorf("job %s is already in a terminal state (%s)", jobID, job.Status)
	case JobQueued:
		job.Status = JobCancelled
		job.Stage = "cancelled"
		m.active--
		return nil
	default: // JobProcessing
		job.cancelRequested = true
		return nil
	}
}

// IsCancelled reports whether cancellation has been requested for a job.
// The orchestrator polls this between pipeline stages.
func (m *JobManager) IsCancelled(jobID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return false
	}
	return job.cancelRequested
}

// MarkCancelled transitions a processing job that observed
// cancelRequested into the terminal cancelled state.
func (m *JobManager) MarkCancelled(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return
	}
	job.Status = JobCancelled
	job.Stage = "cancelled"
	job.ExecutionTime = time.Since(job.StartTime).Seconds()
	m.active--
}

// CleanupOlderThan removes terminal jobs whose start time is older than
// the given age, run periodically so long-lived servers don't grow the
// in-memory job map without bound. Active jobs are never removed.
func (m *JobManager) CleanupOlderThan(age time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-age)
	removed := 0
	for id, job := range m.jobs {
		if job.Status == JobQueued || job.Status == JobProcessing {
			continue
		}
		if job.StartTime.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// RunCleanupLoop periodically purges old terminal jobs until stop is
// closed. Intended to be run in its own goroutine from main.
func (m *JobManager) RunCleanupLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CleanupOlderThan(24 * time.Hour)
		case <-stop:
			return
		}
	}
}
