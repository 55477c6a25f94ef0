package main

import (
	"fmt"
	"log/slog"
)

// JobIntegrityReport is the result of checking a job's working directory
// against its planned tile list: which tiles have a persisted result and
// which are still outstanding. ProcessTiles does not use this report; it
// runs its own per-tile check when resuming.
type JobIntegrityReport struct {
	WorkDir      string
	PlannedCount int
	DoneCount    int
	MissingTiles []TileID
	OK           bool
}

// Print logs the report, in the donor's structured-logging style.
func (r *JobIntegrityReport) Print() {
	logger := slog.With("work_dir", r.WorkDir, "planned", r.PlannedCount, "done", r.DoneCount)

	if r.OK {
		logger.Info("job work directory integrity check PASSED")
		return
	}

	logger.Warn("job work directory incomplete", "missing", len(r.MissingTiles))
	show := r.MissingTiles
	if len(show) > 20 {
		show = show[:20]
	}
	for _, t := range show {
		slog.Warn("missing tile result", "tile", t.String())
	}
	if len(r.MissingTiles) > 20 {
		slog.Warn("... and more missing tiles", "total", len(r.MissingTiles))
	}
}

// VerifyJobWorkDir checks workDir for a persisted result file for every
// tile in the plan, reading and parsing each file the same way the resume
// check does; a file that exists but does not parse is returned as an
// error. It is the read-only counterpart to the resume check ProcessTiles
// performs internally, exposed separately so an operator can inspect a
// stalled job's directory without re-running detection.
func VerifyJobWorkDir(workDir string, planned []TileID) (*JobIntegrityReport, error) {
	report := &JobIntegrityReport{
		WorkDir:      workDir,
		PlannedCount: len(planned),
	}

	for _, t := range planned {
		_, ok, err := loadTileResult(workDir, t)
		if err != nil {
			return nil, fmt.Errorf("reading tile result for %s: %w", t, err)
		}
		if ok {
			report.DoneCount++
		} else {
			report.MissingTiles = append(report.MissingTiles, t)
		}
	}

	report.OK = len(report.MissingTiles) == 0
	return report, nil
}
