package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pngTileServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode fixture tile: %v", err)
	}
	data := buf.Bytes()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
}

func TestTileFetcherFetchDecodesImage(t *testing.T) {
	server := pngTileServer(t)
	defer server.Close()

	fetcher := NewTileFetcher(server.URL+"/{z}/{x}/{y}.png", "test-agent")
	img, err := fetcher.Fetch(context.Background(), TileID{Z: 18, X: 1, Y: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Errorf("unexpected decoded image size: %v", img.Bounds())
	}
}

func TestTileFetcherRetriesOnFailureThenSucceeds(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		img := image.NewRGBA(image.Rect(0, 0, 2, 2))
		var buf bytes.Buffer
		png.Encode(&buf, img)
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	fetcher := NewTileFetcher(server.URL+"/{z}/{x}/{y}.png", "test-agent")

	// One retry costs the fetcher's initial 500ms backoff; acceptable for
	// a single test rather than adding a backoff override hook used only
	// here.
	_, err := fetcher.Fetch(context.Background(), TileID{Z: 1, X: 1, Y: 1})
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if attempts < 2 {
		t.Errorf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestFormatTileURL(t *testing.T) {
	got := formatTileURL("https://tile.example.com/{z}/{x}/{y}.png", TileID{Z: 3, X: 4, Y: 5})
	want := "https://tile.example.com/3/4/5.png"
	if got != want {
		t.Errorf("formatTileURL() = %q, want %q", got, want)
	}
}
