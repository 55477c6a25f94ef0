package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"time"
)

// HTTPDetector calls out to a separately-run inference server over HTTP,
// POSTing the tile as a PNG and parsing back a JSON array of boxes. This
// keeps the model itself (whatever framework it needs) out of process,
// the same separation of concerns the donor draws between the tile
// service and the Postgres/R2 backends it talks to over the network
// rather than linking in-process.
type HTTPDetector struct {
	client *http.Client
	url    string
}

// NewHTTPDetector creates a detector that posts tiles to the given
// inference server URL.
func NewHTTPDetector(url string) *HTTPDetector {
	return &HTTPDetector{
		client: &http.Client{Timeout: 30 * time.Second},
		url:    url,
	}
}

type detectResponseBox struct {
	MinX       float64 `json:"min_x"`
	MinY       float64 `json:"min_y"`
	MaxX       float64 `json:"max_x"`
	MaxY       float64 `json:"max_y"`
	Confidence float64 `json:"confidence"`
}

// Detect encodes img as PNG and posts it as the raw request body, passing
// the confidence threshold as a query parameter, and returns the boxes
// the inference server reports. The boxes are not filtered by confidence
// here.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image, confidence float64) ([]DetectedBox, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding tile image: %w", err)
	}

	url := fmt.Sprintf("%s?confidence=%.4f", d.url, confidence)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("building detect request: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector returned status %d", resp.StatusCode)
	}

	var boxes []detectResponseBox
	if err := json.NewDecoder(resp.Body).Decode(&boxes); err != nil {
		return nil, fmt.Errorf("decoding detector response: %w", err)
	}

	out := make([]DetectedBox, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, DetectedBox{
			MinX:       b.MinX,
			MinY:       b.MinY,
			MaxX:       b.MaxX,
			MaxY:       b.MaxY,
			Confidence: b.Confidence,
		})
	}
	return out, nil
}
