package main

import (
	"context"
	"image"
	"sync"
)

// Detector runs object detection on a single tile image. Implementations
// typically wrap a model server or subprocess that is not safe for
// concurrent use — callers must go through RunDetection, which serializes
// every call behind a single mutex, rather than calling Detect directly.
type Detector interface {
	Detect(ctx context.Context, img image.Image, confidence float64) ([]DetectedBox, error)
}

// DetectedBox is a raw detector output in pixel space, before the tile id
// it came from is attached.
type DetectedBox struct {
	MinX, MinY, MaxX, MaxY float64
	Confidence             float64
}

// detectorMutex serializes every call to a Detector. This mirrors the
// original implementation's model_lock: the underlying model is shared
// process-wide and is not thread-safe, so even though tile fetching and
// reprojection can run on several goroutines at once, inference itself
// must not.
var detectorMutex sync.Mutex

// RunDetection calls det.Detect while holding the process-wide detector
// lock. All callers, regardless of which worker goroutine they run on,
// must go through this function rather than calling Detect directly.
// Boxes are clamped to the tile's pixel rectangle before being returned,
// since a detector backend is untrusted to respect it on its own and an
// out-of-range box would reproject outside the tile entirely.
func RunDetection(ctx context.Context, det Detector, img image.Image, confidence float64) ([]DetectedBox, error) {
	detectorMutex.Lock()
	boxes, err := det.Detect(ctx, img, confidence)
	detectorMutex.Unlock()
	if err != nil {
		return nil, err
	}

	clamped := make([]DetectedBox, 0, len(boxes))
	for _, b := range boxes {
		if cb, ok := clampBox(b); ok {
			clamped = append(clamped, cb)
		}
	}
	return clamped, nil
}

// clampBox clips a raw detection to [0, tileImageSize] x [0, tileImageSize]
// and reports false if the clamped box is degenerate (zero width/height),
// per the invariant that every returned box satisfies
// 0 <= x1 < x2 <= tileImageSize and 0 <= y1 < y2 <= tileImageSize.
func clampBox(b DetectedBox) (DetectedBox, bool) {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > tileImageSize {
			return tileImageSize
		}
		return v
	}

	b.MinX, b.MinY, b.MaxX, b.MaxY = clamp(b.MinX), clamp(b.MinY), clamp(b.MaxX), clamp(b.MaxY)
	if b.MinX >= b.MaxX || b.MinY >= b.MaxY {
		return DetectedBox{}, false
	}
	return b, true
}
