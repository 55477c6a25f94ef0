package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// tileWorkerCount is the number of goroutines that fetch+detect+reproject
// tiles concurrently. Fixed at 2: a benchmarked optimum from the original
// implementation, not a tunable — raising it does not help because the
// detector itself is serialized behind one lock (see detector.go), so
// extra workers past this count only contend for the same lock without
// adding throughput.
const tileWorkerCount = 2

// tileImageSize is the pixel width/height of a fetched raster tile.
const tileImageSize = 256

// tileResult is what gets persisted to disk per tile and what resume
// reads back. JSON, one file per tile, is the authoritative unit of work:
// a tile is "done" iff its file exists and parses.
type tileResult struct {
	TileID     TileID         `json:"tile_id"`
	Detections []GeoDetection `json:"detections"`
}

// ProcessTiles runs the fixed-size worker pool over the planned tiles,
// fetching each tile's image, running detection (serialized via
// RunDetection), reprojecting pixel boxes to geographic rings, and
// writing each tile's detailed and simple JSON files into workDir. Tiles
// whose detailed result file already exists are skipped, so a job can be
// resumed without re-running completed tiles. Results of the tiles
// processed in this call are written once the worker pool has finished
// with every pending tile, not as each tile completes; a process that
// dies mid-pool leaves none of this call's tiles on disk.
//
// Detection IDs are assigned in planned-tile order, not completion order,
// so the result is deterministic regardless of which worker finishes
// first.
//
// onProgress is invoked after each tile completes (successfully or not)
// with the number of tiles completed so far, for the job manager to
// surface as job progress.
func ProcessTiles(
	ctx context.Context,
	tiles []TileID,
	fetcher *TileFetcher,
	det Detector,
	confidence float64,
	workDir string,
	isCancelled func() bool,
	onProgress func(done, total int),
) ([]GeoDetection, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}

	byTile := make(map[TileID]*tileResult, len(tiles))
	var pending []TileID

	for _, t := range tiles {
		existing, ok, err := loadTileResult(workDir, t)
		if err != nil {
			slog.Warn("failed to read existing tile result, reprocessing", "tile", t, "error", err)
		} else if ok {
			byTile[t] = existing
			continue
		}
		pending = append(pending, t)
	}

	if len(pending) > 0 {
		results, err := runWorkerPool(ctx, pending, fetcher, det, confidence, isCancelled, func(completed int) {
			if onProgress != nil {
				onProgress(len(tiles)-len(pending)+completed, len(tiles))
			}
		})
		for tile, res := range results {
			if res.err != nil {
				slog.Warn("tile processing failed", "tile", tile, "error", res.err)
				continue
			}
			if err := saveTileResult(workDir, res.result); err != nil {
				slog.Warn("failed to persist tile result", "tile", tile, "error", err)
			}
			byTile[tile] = res.result
		}
		if err != nil {
			return collectDetections(tiles, byTile), err
		}
	}

	return collectDetections(tiles, byTile), nil
}

type tileOutcome struct {
	result *tileResult
	err    error
}

// runWorkerPool fans pending tiles out across tileWorkerCount goroutines
// and fans results back in, keyed by tile id so the caller can assign
// detection ids deterministically afterward.
func runWorkerPool(
	ctx context.Context,
	pending []TileID,
	fetcher *TileFetcher,
	det Detector,
	confidence float64,
	isCancelled func() bool,
	onProgress func(completed int),
) (map[TileID]tileOutcome, error) {
	tileChan := make(chan TileID, len(pending))
	for _, t := range pending {
		tileChan <- t
	}
	close(tileChan)

	type workerResult struct {
		tile TileID
		tileOutcome
	}
	resultChan := make(chan workerResult, len(pending))

	var wg sync.WaitGroup
	for w := 0; w < tileWorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tile := range tileChan {
				if ctx.Err() != nil || isCancelled() {
					err := ctx.Err()
					if err == nil {
						err = context.Canceled
					}
					resultChan <- workerResult{tile: tile, tileOutcome: tileOutcome{err: err}}
					continue
				}
				res, err := processOneTile(ctx, tile, fetcher, det, confidence)
				resultChan <- workerResult{tile: tile, tileOutcome: tileOutcome{result: res, err: err}}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make(map[TileID]tileOutcome, len(pending))
	var completed int
	var firstErr error

	for r := range resultChan {
		completed++
		if onProgress != nil {
			onProgress(completed)
		}
		results[r.tile] = r.tileOutcome
		if r.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tile %s: %w", r.tile, r.err)
		}
	}

	if firstErr != nil && ctx.Err() != nil {
		return results, firstErr
	}
	return results, nil
}

// collectDetections flattens per-tile results in planned tile order and
// assigns sequential detection ids, so ids are reproducible across runs
// regardless of goroutine scheduling.
func collectDetections(tiles []TileID, byTile map[TileID]*tileResult) []GeoDetection {
	var all []GeoDetection
	nextID := 0
	for _, t := range tiles {
		res, ok := byTile[t]
		if !ok {
			continue
		}
		for _, d := range res.Detections {
			d.ID = nextID
			nextID++
			all = append(all, d)
		}
	}
	return all
}

func processOneTile(ctx context.Context, tile TileID, fetcher *TileFetcher, det Detector, confidence float64) (*tileResult, error) {
	img, err := fetcher.Fetch(ctx, tile)
	if err != nil {
		return nil, fmt.Errorf("fetching: %w", err)
	}

	boxes, err := RunDetection(ctx, det, img, confidence)
	if err != nil {
		return nil, fmt.Errorf("detecting: %w", err)
	}

	detections := make([]GeoDetection, 0, len(boxes))
	for _, b := range boxes {
		ring := reprojectBox(tile, b)
		angle, length := longAxis(ring)
		detections = append(detections, GeoDetection{
			TileID:       tile,
			Ring:         ring,
			Confidence:   b.Confidence,
			AxisAngleRad: angle,
			AxisLength:   length,
		})
	}

	return &tileResult{TileID: tile, Detections: detections}, nil
}

// reprojectBox turns a pixel-space bounding box into a closed geographic
// ring (5 points, first == last), flipping the Y axis per tile.
func reprojectBox(tile TileID, b DetectedBox) []Point {
	corners := [][2]float64{
		{b.MinX, b.MinY},
		{b.MaxX, b.MinY},
		{b.MaxX, b.MaxY},
		{b.MinX, b.MaxY},
	}

	ring := make([]Point, 0, 5)
	for _, c := range corners {
		lon, lat := pixelToLonLat(tile, c[0], c[1], tileImageSize)
		ring = append(ring, Point{Lon: lon, Lat: lat})
	}
	ring = append(ring, ring[0])
	return ring
}

func tileResultPath(workDir string, t TileID) string {
	return filepath.Join(workDir, fmt.Sprintf("tile_%d_%d_%d.json", t.Z, t.X, t.Y))
}

func tileSimpleResultPath(workDir string, t TileID) string {
	return filepath.Join(workDir, fmt.Sprintf("tile_%d_%d_%d_simple.json", t.Z, t.X, t.Y))
}

// simpleBuilding is the minimal per-tile output shape: just enough to plot
// a point, keyed by a tile-local id rather than the final global one.
type simpleBuilding struct {
	ID        string  `json:"id"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// simpleBuildingsForTile converts one tile's detections into the simple
// centroid-only format, mirroring convert_tile_to_simple_format.
func simpleBuildingsForTile(result *tileResult) []simpleBuilding {
	out := make([]simpleBuilding, 0, len(result.Detections))
	for i, d := range result.Detections {
		lon, lat := centroid(d.Ring)
		out = append(out, simpleBuilding{
			ID:        fmt.Sprintf("%d_%d_%d_%d", result.TileID.Z, result.TileID.X, result.TileID.Y, i),
			Longitude: lon,
			Latitude:  lat,
		})
	}
	return out
}

func loadTileResult(workDir string, t TileID) (*tileResult, bool, error) {
	path := tileResultPath(workDir, t)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var result tileResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, err
	}
	return &result, true, nil
}

// saveTileResult persists both the detailed tile record (used for resume)
// and its simple centroid-only sibling (the original's dual detailed/simple
// save), each written atomically via a temp file plus rename.
func saveTileResult(workDir string, result *tileResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tile result: %w", err)
	}
	if err := writeFileAtomic(tileResultPath(workDir, result.TileID), data); err != nil {
		return fmt.Errorf("writing tile result: %w", err)
	}

	simpleData, err := json.MarshalIndent(simpleBuildingsForTile(result), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling simple tile result: %w", err)
	}
	if err := writeFileAtomic(tileSimpleResultPath(workDir, result.TileID), simpleData); err != nil {
		return fmt.Errorf("writing simple tile result: %w", err)
	}

	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
