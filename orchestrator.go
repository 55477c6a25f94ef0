package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Orchestrator runs the full polygon-to-buildings pipeline: plan tiles,
// run the worker pool, merge fragmented detections, filter by
// containment, and renumber. It is shared by the sync and async HTTP
// handlers, which differ only in whether they wait for the result.
type Orchestrator struct {
	fetcher *TileFetcher
	det     Detector
	cfg     *Config
	jobs    *JobManager
}

// NewOrchestrator wires together the components needed to run detection
// jobs against a tile server using det for inference.
func NewOrchestrator(fetcher *TileFetcher, det Detector, cfg *Config, jobs *JobManager) *Orchestrator {
	return &Orchestrator{fetcher: fetcher, det: det, cfg: cfg, jobs: jobs}
}

// Run executes the full pipeline for one job, updating job progress as it
// advances through stages and observing cancellation between each one.
// The caller (whether the sync handler waiting inline, or the async
// background goroutine) is responsible for marking the job complete or
// failed based on the returned error.
func (o *Orchestrator) Run(ctx context.Context, jobID string, req PolygonRequest) ([]Building, error) {
	o.jobs.UpdateProgress(jobID, "parsing_polygon", 0, 0)
	rings, err := ExtractRings(req.Polygon)
	if err != nil {
		return nil, fmt.Errorf("parsing polygon: %w", err)
	}

	if o.jobs.IsCancelled(jobID) {
		return nil, context.Canceled
	}

	o.jobs.UpdateProgress(jobID, "planning_tiles", 5, 0)
	minLon, minLat, maxLon, maxLat, err := BoundingBoxOfRings(rings)
	if err != nil {
		return nil, fmt.Errorf("computing bounding box: %w", err)
	}
	tiles := PlanTiles(minLon, minLat, maxLon, maxLat, req.Zoom)
	if len(tiles) == 0 {
		return nil, fmt.Errorf("no tiles intersect the given polygon at zoom %d", req.Zoom)
	}
	slog.Info("planned tiles", "job_id", jobID, "count", len(tiles), "zoom", req.Zoom)

	if o.jobs.IsCancelled(jobID) {
		return nil, context.Canceled
	}

	workDir := filepath.Join(o.cfg.Jobs.WorkDir, jobID)
	o.jobs.UpdateProgress(jobID, "detecting", 10, 0)

	detections, err := ProcessTiles(
		ctx,
		tiles,
		o.fetcher,
		o.det,
		req.Confidence,
		workDir,
		func() bool { return o.jobs.IsCancelled(jobID) },
		func(done, total int) {
			// Detection spans the 10-80% progress range; the remaining
			// stages (merge, filter) are comparatively instant.
			progress := 10 + (done*70)/max(total, 1)
			o.jobs.UpdateProgress(jobID, "detecting", progress, 0)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("processing tiles: %w", err)
	}

	if o.jobs.IsCancelled(jobID) {
		return nil, context.Canceled
	}

	var merged []MergedBuilding
	if req.EnableMerging {
		o.jobs.UpdateProgress(jobID, "merging", 85, len(detections))
		merged = MergeDetections(detections, MergeOptions{
			IoUThreshold:       req.MergeIoUThreshold,
			TouchEnabled:       req.MergeTouchEnabled,
			MinEdgeDistanceDeg: req.MergeMinEdgeDistanceDeg,
		})
	} else {
		merged = make([]MergedBuilding, 0, len(detections))
		for _, d := range detections {
			merged = append(merged, MergedBuilding{
				ID:              d.ID,
				Ring:            d.Ring,
				Confidence:      d.Confidence,
				OriginalCount:   1,
				ContributingIDs: []int{d.ID},
			})
		}
	}

	if o.jobs.IsCancelled(jobID) {
		return nil, context.Canceled
	}

	o.jobs.UpdateProgress(jobID, "filtering", 95, len(merged))
	buildings := FilterAndRenumber(merged, rings)

	o.jobs.UpdateProgress(jobID, "completed", 100, len(buildings))
	return buildings, nil
}
