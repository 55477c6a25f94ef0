package main

import "sort"

// FilterAndRenumber keeps only buildings whose centroid falls inside the
// request polygon, then renumbers the survivors 1..N in a stable top-left
// reading order (latitude descending, then longitude ascending) so that
// the same polygon always produces the same final ids regardless of
// detection or merge order. This final renumbering has no analogue in
// the original per-tile centroid filter, which only stripped tile-prefixed
// ids without resorting; it exists so that callers get a stable,
// human-readable ordering independent of internal processing order.
func FilterAndRenumber(buildings []MergedBuilding, rings [][]Point) []Building {
	var kept []MergedBuilding
	for _, b := range buildings {
		lon, lat := centroid(b.Ring)
		if pointInRings(lon, lat, rings) {
			kept = append(kept, b)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		ci, cj := kept[i], kept[j]
		loni, lati := centroid(ci.Ring)
		lonj, latj := centroid(cj.Ring)
		if lati != latj {
			return lati > latj // north first
		}
		return loni < lonj // west first
	})

	out := make([]Building, 0, len(kept))
	for i, b := range kept {
		lon, lat := centroid(b.Ring)
		out = append(out, Building{
			ID:        i + 1,
			Longitude: lon,
			Latitude:  lat,
		})
	}
	return out
}

// centroid returns the arithmetic mean of a ring's vertices, skipping the
// closing point (which duplicates the first). Adequate for the small,
// roughly-rectangular rings this service produces; not a true polygon
// area-weighted centroid.
func centroid(ring []Point) (lon, lat float64) {
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	var sumLon, sumLat float64
	for i := 0; i < n; i++ {
		sumLon += ring[i].Lon
		sumLat += ring[i].Lat
	}
	return sumLon / float64(n), sumLat / float64(n)
}

// pointInRings reports whether (lon, lat) falls inside any of the given
// rings, using the standard ray-casting test. The request polygon may be
// a MultiPolygon collapsed to several rings; a point need only be inside
// one of them.
func pointInRings(lon, lat float64, rings [][]Point) bool {
	for _, ring := range rings {
		if pointInRing(lon, lat, ring) {
			return true
		}
	}
	return false
}

// pointInRing implements the even-odd ray-casting rule, casting a ray in
// the +lon direction from the test point and counting ring edge crossings.
func pointInRing(lon, lat float64, ring []Point) bool {
	inside := false
	n := len(ring)
	if n < 3 {
		return false
	}
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := ring[i], ring[j]
		intersects := (pi.Lat > lat) != (pj.Lat > lat) &&
			lon < (pj.Lon-pi.Lon)*(lat-pi.Lat)/(pj.Lat-pi.Lat)+pi.Lon
		if intersects {
			inside = !inside
		}
	}
	return inside
}
