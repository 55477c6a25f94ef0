package main

import "time"

// JobStatus is the lifecycle state of a detection job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// PolygonRequest is the inbound payload for both the sync and async
// detection endpoints.
type PolygonRequest struct {
	JobID                   string                 `json:"job_id,omitempty"`
	Polygon                 map[string]interface{} `json:"polygon"`
	Zoom                    int                     `json:"zoom"`
	Confidence              float64                 `json:"confidence"`
	BatchSize               int                     `json:"batch_size"`
	EnableMerging           bool                    `json:"enable_merging"`
	MergeIoUThreshold       float64                 `json:"merge_iou_threshold"`
	MergeTouchEnabled       bool                    `json:"merge_touch_enabled"`
	MergeMinEdgeDistanceDeg float64                 `json:"merge_min_edge_distance_deg"`
}

// ApplyDefaults fills zero-valued numeric fields with the service's
// configured defaults, matching the original's pydantic default-value
// behavior. The boolean fields are left as decoded: an omitted
// enable_merging or merge_touch_enabled stays false, and
// DefaultEnableMerging and DefaultMergeTouchEnabled are not applied.
func (r *PolygonRequest) ApplyDefaults(cfg *Config) {
	if r.Zoom == 0 {
		r.Zoom = cfg.Detection.DefaultZoom
	}
	if r.Confidence == 0 {
		r.Confidence = cfg.Detection.DefaultConfidence
	}
	if r.BatchSize == 0 {
		r.BatchSize = cfg.Detection.DefaultBatchSize
	}
	if r.MergeIoUThreshold == 0 {
		r.MergeIoUThreshold = cfg.Detection.DefaultMergeIoUThreshold
	}
	if r.MergeMinEdgeDistanceDeg == 0 {
		r.MergeMinEdgeDistanceDeg = cfg.Detection.DefaultMergeMinEdgeDistanceDeg
	}
}

// Building is a single detected building in the service's simple output
// format: just enough to plot a point.
type Building struct {
	ID        int     `json:"id"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Detection is one tile-local object-detector result, still in pixel space.
type Detection struct {
	TileID     TileID
	MinX       float64
	MinY       float64
	MaxX       float64
	MaxY       float64
	Confidence float64
}

// GeoDetection is a Detection reprojected into geographic space, with its
// long axis precomputed for use as alignment evidence during merging.
type GeoDetection struct {
	ID           int
	TileID       TileID
	Ring         []Point // closed exterior ring, lon/lat
	Confidence   float64
	AxisAngleRad float64
	AxisLength   float64
}

// Point is a bare lon/lat pair, used instead of orb.Point in the merge
// scoring hot path where only X/Y access is needed.
type Point struct {
	Lon float64
	Lat float64
}

// MergedBuilding is the result of unioning one connected component of
// GeoDetections discovered by the merger.
type MergedBuilding struct {
	ID              int
	Ring            []Point
	Confidence      float64
	OriginalCount   int
	ContributingIDs []int
}

// Job tracks one detection run, whether started synchronously or
// asynchronously. The orchestrator updates Progress/Stage/BuildingsFound
// as it moves through stages; the job manager guards access with a mutex.
type Job struct {
	JobID           string
	Status          JobStatus
	Progress        int
	Stage           string
	BuildingsFound  int
	StartTime       time.Time
	ExecutionTime   float64
	ErrorMessage    string
	Request         PolygonRequest
	Result          []Building
	cancelRequested bool
}

// JobSummary is the subset of Job fields surfaced by the jobs-list
// endpoint, matching the original's list_all_jobs response shape.
type JobSummary struct {
	JobID    string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	Stage    string    `json:"stage"`
	started  time.Time // sort key only, not serialized
}

// JobStatusResponse is the payload for GET /job/{job_id}: the full status
// view, including the estimated-time-remaining projection the original
// computes from elapsed time and progress.
type JobStatusResponse struct {
	JobID                  string    `json:"job_id"`
	Status                 JobStatus `json:"status"`
	Progress               int       `json:"progress"`
	Stage                  string    `json:"stage"`
	BuildingsFound         int       `json:"buildings_found"`
	EstimatedTimeRemaining *float64  `json:"estimated_time_remaining,omitempty"`
	ExecutionTime          *float64  `json:"execution_time,omitempty"`
	ErrorMessage           string    `json:"error_message,omitempty"`
}

// NewJobStatusResponse builds the status payload for a job, estimating
// time remaining as (elapsed/progress)*(100-progress) once progress has
// passed 5%, the same rough linear projection the original uses.
func NewJobStatusResponse(job *Job) JobStatusResponse {
	resp := JobStatusResponse{
		JobID:          job.JobID,
		Status:         job.Status,
		Progress:       job.Progress,
		Stage:          job.Stage,
		BuildingsFound: job.BuildingsFound,
		ErrorMessage:   job.ErrorMessage,
	}

	switch job.Status {
	case JobCompleted, JobFailed, JobCancelled:
		et := job.ExecutionTime
		resp.ExecutionTime = &et
	default:
		if job.Progress > 5 {
			elapsed := time.Since(job.StartTime).Seconds()
			remaining := (elapsed / float64(job.Progress)) * float64(100-job.Progress)
			resp.EstimatedTimeRemaining = &remaining
		}
	}

	return resp
}
