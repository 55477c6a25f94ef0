package main

import "testing"

func TestVerifyJobWorkDirReportsMissingTiles(t *testing.T) {
	dir := t.TempDir()
	planned := []TileID{
		{Z: 18, X: 1, Y: 1},
		{Z: 18, X: 2, Y: 1},
	}

	if err := saveTileResult(dir, &tileResult{TileID: planned[0]}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := VerifyJobWorkDir(dir, planned)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.OK {
		t.Error("expected report to be not OK with one tile missing")
	}
	if report.DoneCount != 1 {
		t.Errorf("expected done count 1, got %d", report.DoneCount)
	}
	if len(report.MissingTiles) != 1 || report.MissingTiles[0] != planned[1] {
		t.Errorf("expected tile %s reported missing, got %+v", planned[1], report.MissingTiles)
	}
}

func TestVerifyJobWorkDirAllPresent(t *testing.T) {
	dir := t.TempDir()
	planned := []TileID{{Z: 18, X: 1, Y: 1}}
	if err := saveTileResult(dir, &tileResult{TileID: planned[0]}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := VerifyJobWorkDir(dir, planned)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.OK {
		t.Error("expected report to be OK when every planned tile is present")
	}
}
