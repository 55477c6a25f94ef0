package main

import (
	"encoding/json"
	"errors"
	"testing"
)

func parsePolygonPayload(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("failed to parse test payload: %v", err)
	}
	return m
}

func TestExtractRingsFromBarePolygon(t *testing.T) {
	payload := parsePolygonPayload(t, `{
		"type": "Polygon",
		"coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]
	}`)

	rings, err := ExtractRings(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rings) != 1 || len(rings[0]) != 5 {
		t.Fatalf("unexpected rings: %+v", rings)
	}
}

func TestExtractRingsFromFeature(t *testing.T) {
	payload := parsePolygonPayload(t, `{
		"type": "Feature",
		"properties": {},
		"geometry": {
			"type": "Polygon",
			"coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]
		}
	}`)

	rings, err := ExtractRings(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rings) != 1 {
		t.Fatalf("expected 1 ring, got %d", len(rings))
	}
}

func TestExtractRingsFromFeatureCollection(t *testing.T) {
	payload := parsePolygonPayload(t, `{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "properties": {}, "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
			{"type": "Feature", "properties": {}, "geometry": {"type": "Polygon", "coordinates": [[[5,5],[6,5],[6,6],[5,6],[5,5]]]}}
		]
	}`)

	rings, err := ExtractRings(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rings) != 2 {
		t.Fatalf("expected 2 rings from 2 polygon features, got %d", len(rings))
	}
}

func TestExtractRingsFromMultiPolygon(t *testing.T) {
	payload := parsePolygonPayload(t, `{
		"type": "MultiPolygon",
		"coordinates": [
			[[[0,0],[1,0],[1,1],[0,1],[0,0]]],
			[[[5,5],[6,5],[6,6],[5,6],[5,5]]]
		]
	}`)

	rings, err := ExtractRings(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rings) != 2 {
		t.Fatalf("expected 2 rings, got %d", len(rings))
	}
}

func TestExtractRingsRejectsNonPolygon(t *testing.T) {
	payload := parsePolygonPayload(t, `{"type": "Point", "coordinates": [0, 0]}`)
	if _, err := ExtractRings(payload); err == nil {
		t.Error("expected an error for a non-polygon geometry")
	}
}

func TestExtractRingsRejectsEmptyFeatureCollection(t *testing.T) {
	payload := parsePolygonPayload(t, `{"type": "FeatureCollection", "features": []}`)
	if _, err := ExtractRings(payload); err == nil {
		t.Error("expected an error for a feature collection with no polygon features")
	}
}

func TestExtractRingsRejectsFewerThanFourPoints(t *testing.T) {
	payload := parsePolygonPayload(t, `{
		"type": "Polygon",
		"coordinates": [[[0,0],[1,1],[0,0]]]
	}`)

	_, err := ExtractRings(payload)
	if err == nil {
		t.Fatal("expected an error for a degenerate ring with fewer than 4 points")
	}
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("expected ErrInvalidGeometry, got %v", err)
	}
}

func TestExtractRingsRejectsSelfIntersectingRing(t *testing.T) {
	// A bowtie: edges (0,0)-(1,1) and (1,0)-(0,1) cross in the middle.
	payload := parsePolygonPayload(t, `{
		"type": "Polygon",
		"coordinates": [[[0,0],[1,1],[1,0],[0,1],[0,0]]]
	}`)

	_, err := ExtractRings(payload)
	if err == nil {
		t.Fatal("expected an error for a self-intersecting ring")
	}
	if !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("expected ErrInvalidGeometry, got %v", err)
	}
}

func TestExtractRingsAcceptsSimpleQuadrilateral(t *testing.T) {
	payload := parsePolygonPayload(t, `{
		"type": "Polygon",
		"coordinates": [[[0,0],[2,0],[2,1],[0,1],[0,0]]]
	}`)

	if _, err := ExtractRings(payload); err != nil {
		t.Errorf("unexpected error for a simple quadrilateral: %v", err)
	}
}
