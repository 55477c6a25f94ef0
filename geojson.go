package main

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrInvalidGeometry is returned by ExtractRings when a ring fails the
// tile planner's simple-polygon requirement: at least 4 points and no
// self-intersection.
var ErrInvalidGeometry = fmt.Errorf("invalid geometry")

// ExtractRings collapses an inbound polygon payload of any of the three
// GeoJSON shapes the request accepts (bare Geometry, Feature,
// FeatureCollection) into a flat list of exterior rings. A
// FeatureCollection contributes one ring per Polygon/MultiPolygon feature
// found among its features, matching the original's behavior of unioning
// every polygon feature rather than requiring exactly one.
func ExtractRings(raw map[string]interface{}) ([][]Point, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encoding polygon payload: %w", err)
	}

	typ, _ := raw["type"].(string)
	switch typ {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("parsing feature collection: %w", err)
		}
		var rings [][]Point
		for _, feature := range fc.Features {
			r, err := ringsFromGeometry(feature.Geometry)
			if err != nil {
				continue
			}
			rings = append(rings, r...)
		}
		if len(rings) == 0 {
			return nil, fmt.Errorf("no polygon features found in feature collection")
		}
		if err := validateRings(rings); err != nil {
			return nil, err
		}
		return rings, nil

	case "Feature":
		feature, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("parsing feature: %w", err)
		}
		rings, err := ringsFromGeometry(feature.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature does not contain a polygon geometry: %w", err)
		}
		if err := validateRings(rings); err != nil {
			return nil, err
		}
		return rings, nil

	case "Polygon", "MultiPolygon":
		geom, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("parsing geometry: %w", err)
		}
		rings, err := ringsFromGeometry(geom.Geometry())
		if err != nil {
			return nil, err
		}
		if err := validateRings(rings); err != nil {
			return nil, err
		}
		return rings, nil

	default:
		return nil, fmt.Errorf("invalid geojson format or no polygon found (type %q)", typ)
	}
}

// validateRings checks every ring against the tile planner's simple-polygon
// requirement (spec.md 4.2): at least 4 points, and no self-intersection.
func validateRings(rings [][]Point) error {
	for _, ring := range rings {
		if err := validateRing(ring); err != nil {
			return err
		}
	}
	return nil
}

// validateRing rejects a degenerate ring (fewer than 4 points) or a
// self-intersecting one, matching the original's simple-polygon check
// ahead of tile planning.
func validateRing(ring []Point) error {
	if len(ring) < 4 {
		return fmt.Errorf("%w: ring has fewer than 4 points", ErrInvalidGeometry)
	}
	if !isSimpleRing(ring) {
		return fmt.Errorf("%w: ring is self-intersecting", ErrInvalidGeometry)
	}
	return nil
}

// isSimpleRing reports whether a closed ring's edges never cross except
// at the vertices adjacent edges are expected to share. Rings produced
// by ringFromOrb and reprojectBox are always explicitly closed
// (ring[0] == ring[len-1]).
func isSimpleRing(ring []Point) bool {
	n := len(ring) - 1 // last point duplicates the first
	for i := 0; i < n; i++ {
		a1, a2 := ring[i], ring[i+1]
		for j := i + 1; j < n; j++ {
			if j == i+1 {
				continue // adjacent edge, shares vertex a2
			}
			if i == 0 && j == n-1 {
				continue // wrap-around adjacency: edge n-1 shares ring[0] with edge 0
			}
			b1, b2 := ring[j], ring[j+1]
			if segmentsIntersect(a1, a2, b1, b2) {
				return false
			}
		}
	}
	return true
}

// segmentsIntersect is the standard orientation-based segment-crossing
// test, including the collinear-overlap edge cases.
func segmentsIntersect(p1, q1, p2, q2 Point) bool {
	o1 := orientation(p1, q1, p2)
	o2 := orientation(p1, q1, q2)
	o3 := orientation(p2, q2, p1)
	o4 := orientation(p2, q2, q1)

	if o1 != o2 && o3 != o4 {
		return true
	}
	if o1 == 0 && onSegment(p1, p2, q1) {
		return true
	}
	if o2 == 0 && onSegment(p1, q2, q1) {
		return true
	}
	if o3 == 0 && onSegment(p2, p1, q2) {
		return true
	}
	if o4 == 0 && onSegment(p2, q1, q2) {
		return true
	}
	return false
}

func orientation(p, q, r Point) int {
	val := (q.Lat-p.Lat)*(r.Lon-q.Lon) - (q.Lon-p.Lon)*(r.Lat-q.Lat)
	switch {
	case val > 0:
		return 1
	case val < 0:
		return 2
	default:
		return 0
	}
}

func onSegment(p, q, r Point) bool {
	return q.Lon <= math.Max(p.Lon, r.Lon) && q.Lon >= math.Min(p.Lon, r.Lon) &&
		q.Lat <= math.Max(p.Lat, r.Lat) && q.Lat >= math.Min(p.Lat, r.Lat)
}

// ringsFromGeometry extracts exterior rings from a Polygon or
// MultiPolygon geometry. Interior rings (holes) are dropped: the
// containment filter only needs to test whether a building's centroid
// falls within the outer boundary, and the service does not model holes
// in the area of interest.
func ringsFromGeometry(geom orb.Geometry) ([][]Point, error) {
	switch g := geom.(type) {
	case orb.Polygon:
		if len(g) == 0 {
			return nil, fmt.Errorf("empty polygon")
		}
		return [][]Point{ringFromOrb(g[0])}, nil

	case orb.MultiPolygon:
		var rings [][]Point
		for _, poly := range g {
			if len(poly) == 0 {
				continue
			}
			rings = append(rings, ringFromOrb(poly[0]))
		}
		if len(rings) == 0 {
			return nil, fmt.Errorf("empty multipolygon")
		}
		return rings, nil

	default:
		return nil, fmt.Errorf("geometry type %T is not a polygon", geom)
	}
}

func ringFromOrb(ring orb.Ring) []Point {
	points := make([]Point, 0, len(ring))
	for _, p := range ring {
		points = append(points, Point{Lon: p[0], Lat: p[1]})
	}
	return points
}
