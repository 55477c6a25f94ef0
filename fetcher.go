package main

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TileFetcher downloads raster tile images over HTTP, retrying failures
// with exponential backoff. Every failed attempt is retried, including
// non-transient ones such as a 404 or an undecodable body. Map tile servers commonly rate-limit
// or drop connections under load, so a bare single-attempt GET is not
// reliable enough for a batch job covering hundreds of tiles.
type TileFetcher struct {
	client    *http.Client
	tileURL   string // e.g. "https://tile.example.com/{z}/{x}/{y}.png"
	userAgent string
	maxRetries int
}

// NewTileFetcher creates a fetcher for the given tile URL template.
func NewTileFetcher(tileURL, userAgent string) *TileFetcher {
	return &TileFetcher{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		tileURL:    tileURL,
		userAgent:  userAgent,
		maxRetries: 5,
	}
}

// Fetch downloads and decodes one tile image, retrying on failure with
// exponential backoff starting at 500ms and doubling up to a ceiling.
func (f *TileFetcher) Fetch(ctx context.Context, tile TileID) (image.Image, error) {
	url := formatTileURL(f.tileURL, tile)

	backoff := 500 * time.Millisecond
	const maxBackoff = 16 * time.Second

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		img, err := f.attemptFetch(ctx, url)
		if err == nil {
			return img, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("fetching tile %s after %d attempts: %w", tile, f.maxRetries+1, lastErr)
}

func (f *TileFetcher) attemptFetch(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	return img, nil
}

func formatTileURL(template string, tile TileID) string {
	replacer := strings.NewReplacer(
		"{z}", strconv.Itoa(tile.Z),
		"{x}", strconv.Itoa(tile.X),
		"{y}", strconv.Itoa(tile.Y),
	)
	return replacer.Replace(template)
}
