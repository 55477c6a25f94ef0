package main

import (
	"math"
	"sort"
)

// MergeOptions controls the merger's sensitivity, mirroring the
// corresponding fields of PolygonRequest.
type MergeOptions struct {
	IoUThreshold       float64
	TouchEnabled       bool
	MinEdgeDistanceDeg float64
}

// mergeEdge is one piece of evidence that two detections belong to the
// same building, produced by scorePair. Phase is the evidence tier (1 =
// strong IoU overlap, 2 = boundary proximity + alignment, 3 = weak touch
// or short edge distance); lower phase numbers are stronger evidence and
// are unioned first.
type mergeEdge struct {
	a, b  int // indices into the detections slice
	phase int
	score float64
}

// allowedPhases returns the set of evidence phases the union-find step
// will actually act on. Phase 3 (weak touch/edge-distance) only
// contributes when TouchEnabled is set; phases 1 and 2 are always
// consulted, matching the original's documented default.
func allowedPhases(opts MergeOptions) map[int]bool {
	phases := map[int]bool{1: true, 2: true}
	if opts.TouchEnabled {
		phases[3] = true
	}
	return phases
}

// MergeDetections merges GeoDetections that represent the same building
// fragmented across tile boundaries. Detections sharing a source tile id
// are never candidates for merging — fragmentation only happens at tile
// edges, so same-tile detections are already complete.
func MergeDetections(detections []GeoDetection, opts MergeOptions) []MergedBuilding {
	if len(detections) == 0 {
		return nil
	}

	uf := newUnionFind(len(detections))
	edges := scoreAllPairs(detections, opts)

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].phase != edges[j].phase {
			return edges[i].phase < edges[j].phase
		}
		return edges[i].score > edges[j].score
	})

	allowed := allowedPhases(opts)
	for _, e := range edges {
		if !allowed[e.phase] {
			continue
		}
		uf.union(e.a, e.b)
	}

	return emitComponents(detections, uf)
}

// scoreAllPairs evaluates every cross-tile pair of detections and returns
// the edges for which at least one phase produced evidence.
func scoreAllPairs(detections []GeoDetection, opts MergeOptions) []mergeEdge {
	var edges []mergeEdge
	for i := 0; i < len(detections); i++ {
		for j := i + 1; j < len(detections); j++ {
			if detections[i].TileID == detections[j].TileID {
				continue
			}
			if edge, ok := scorePair(detections[i], detections[j], i, j, opts); ok {
				edges = append(edges, edge)
			}
		}
	}
	return edges
}

// scorePair evaluates the three evidence phases between two detections in
// order, returning the strongest (lowest-numbered) phase that produced
// evidence. Phase 2 only fires between 8-neighbor-adjacent tiles whose
// centroids align with the shared tile-boundary direction; phase 3 falls
// back to plain touching/edge-distance evidence regardless of alignment.
func scorePair(a, b GeoDetection, ai, bi int, opts MergeOptions) (mergeEdge, bool) {
	if iou := ringIoU(a.Ring, b.Ring); iou >= opts.IoUThreshold {
		return mergeEdge{a: ai, b: bi, phase: 1, score: iou}, true
	}

	alignment := axisAlignment(a.AxisAngleRad, b.AxisAngleRad)
	alignmentFactor := math.Pow(alignment, 5) // weight reduced from a steeper power, per the original

	boundaryScore := boundaryProximityScore(a, b)
	dist, touching := edgeDistance(a.Ring, b.Ring)

	if boundaryScore > 0.7 {
		if opts.TouchEnabled && touching {
			return mergeEdge{a: ai, b: bi, phase: 2, score: boundaryScore * alignmentFactor}, true
		}
		if opts.MinEdgeDistanceDeg > 0 && dist > 0 && dist < opts.MinEdgeDistanceDeg {
			normDist := dist / opts.MinEdgeDistanceDeg
			return mergeEdge{a: ai, b: bi, phase: 2, score: boundaryScore - normDist}, true
		}
	}

	if opts.TouchEnabled && touching {
		return mergeEdge{a: ai, b: bi, phase: 3, score: alignmentFactor}, true
	}
	if opts.MinEdgeDistanceDeg > 0 && dist > 0 && dist < opts.MinEdgeDistanceDeg {
		// Weaker evidence scores lower; invert distance so a closer miss
		// scores highest among phase-3 edges.
		return mergeEdge{a: ai, b: bi, phase: 3, score: 1 / (1 + dist)}, true
	}

	return mergeEdge{}, false
}

// ringIoU computes intersection-over-union of two rings' axis-aligned
// bounding boxes. This is a coarse but fast proxy for true polygon IoU,
// adequate for bounding-box detections where the rings are themselves
// axis-aligned rectangles in pixel space before reprojection skews them
// slightly.
func ringIoU(a, b []Point) float64 {
	aMinX, aMinY, aMaxX, aMaxY := ringBounds(a)
	bMinX, bMinY, bMaxX, bMaxY := ringBounds(b)

	ix0 := math.Max(aMinX, bMinX)
	iy0 := math.Max(aMinY, bMinY)
	ix1 := math.Min(aMaxX, bMaxX)
	iy1 := math.Min(aMaxY, bMaxY)

	if ix1 <= ix0 || iy1 <= iy0 {
		return 0
	}

	interArea := (ix1 - ix0) * (iy1 - iy0)
	aArea := (aMaxX - aMinX) * (aMaxY - aMinY)
	bArea := (bMaxX - bMinX) * (bMaxY - bMinY)
	unionArea := aArea + bArea - interArea
	if unionArea <= 0 {
		return 0
	}

	return interArea / unionArea
}

func ringBounds(ring []Point) (minX, minY, maxX, maxY float64) {
	minX, minY = ring[0].Lon, ring[0].Lat
	maxX, maxY = ring[0].Lon, ring[0].Lat
	for _, p := range ring[1:] {
		minX = math.Min(minX, p.Lon)
		minY = math.Min(minY, p.Lat)
		maxX = math.Max(maxX, p.Lon)
		maxY = math.Max(maxY, p.Lat)
	}
	return
}

// boundaryProximityScore measures how well two detections from adjacent
// tiles align with the direction of the tile boundary they straddle.
// Detections from non-adjacent tiles (or different zooms) score 0 and
// can never qualify as phase-2 evidence, since fragmentation only
// happens across a shared edge or corner.
func boundaryProximityScore(a, b GeoDetection) float64 {
	if a.TileID.Z != b.TileID.Z {
		return 0
	}
	dx := b.TileID.X - a.TileID.X
	dy := b.TileID.Y - a.TileID.Y
	if abs(dx) > 1 || abs(dy) > 1 {
		return 0 // not adjacent
	}

	c1Lon, c1Lat := centroid(a.Ring)
	c2Lon, c2Lat := centroid(b.Ring)
	aMinX, aMinY, aMaxX, aMaxY := ringBounds(a.Ring)
	bMinX, bMinY, bMaxX, bMaxY := ringBounds(b.Ring)

	switch {
	case dx != 0 && dy == 0: // horizontal boundary: reward vertical alignment
		h := math.Max(aMaxY-aMinY, bMaxY-bMinY)
		if h <= 0 {
			return 0
		}
		return 1 - math.Abs(c1Lat-c2Lat)/h
	case dx == 0 && dy != 0: // vertical boundary: reward horizontal alignment
		w := math.Max(aMaxX-aMinX, bMaxX-bMinX)
		if w <= 0 {
			return 0
		}
		return 1 - math.Abs(c1Lon-c2Lon)/w
	default: // diagonal (corner-touching) boundary: need both
		var vAlign, hAlign float64
		if h := math.Max(aMaxY-aMinY, bMaxY-bMinY); h > 0 {
			vAlign = 1 - math.Abs(c1Lat-c2Lat)/h
		}
		if w := math.Max(aMaxX-aMinX, bMaxX-bMinX); w > 0 {
			hAlign = 1 - math.Abs(c1Lon-c2Lon)/w
		}
		return math.Min(vAlign, hAlign)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// axisAlignment returns a similarity in [0,1] between two long-axis
// angles, treating angles pi radians apart (opposite direction, same
// line) as fully aligned.
func axisAlignment(a, b float64) float64 {
	diff := math.Mod(a-b, math.Pi)
	if diff < 0 {
		diff += math.Pi
	}
	if diff > math.Pi/2 {
		diff = math.Pi - diff
	}
	return math.Cos(diff)
}

// edgeDistance returns the minimum distance between any pair of vertices
// of the two rings, and whether that distance is effectively zero
// (touching/overlapping).
func edgeDistance(a, b []Point) (float64, bool) {
	min := math.MaxFloat64
	for _, pa := range a {
		for _, pb := range b {
			d := math.Hypot(pa.Lon-pb.Lon, pa.Lat-pb.Lat)
			if d < min {
				min = d
			}
		}
	}
	return min, min < 1e-9
}

// longAxis computes the angle and length of a ring's minimum-rotated-
// rectangle long axis. Bounding-box detections are already
// near-rectangular, so this approximates it using the farthest pair of
// ring vertices rather than computing a true rotating-calipers minimum
// rectangle — adequate for the alignment weighting scorePair applies.
func longAxis(ring []Point) (angleRad, length float64) {
	var bestLen float64
	var bestAngle float64
	for i := 0; i < len(ring); i++ {
		for j := i + 1; j < len(ring); j++ {
			dx := ring[j].Lon - ring[i].Lon
			dy := ring[j].Lat - ring[i].Lat
			l := math.Hypot(dx, dy)
			if l > bestLen {
				bestLen = l
				bestAngle = math.Atan2(dy, dx)
			}
		}
	}
	return bestAngle, bestLen
}

// emitComponents turns each union-find component into one MergedBuilding:
// envelope of member rings, max confidence, lowest original id, and a
// sorted list of contributing ids.
func emitComponents(detections []GeoDetection, uf *unionFind) []MergedBuilding {
	groups := make(map[int][]int) // root -> member indices
	for i := range detections {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	buildings := make([]MergedBuilding, 0, len(groups))
	for _, members := range groups {
		var ring []Point
		var maxConf float64
		ids := make([]int, 0, len(members))

		for _, idx := range members {
			d := detections[idx]
			ids = append(ids, d.ID)
			if d.Confidence > maxConf {
				maxConf = d.Confidence
			}
			if ring == nil {
				ring = d.Ring
			} else {
				ring = envelopeRings(ring, d.Ring)
			}
		}

		sort.Ints(ids)

		buildings = append(buildings, MergedBuilding{
			ID:              ids[0],
			Ring:            ring,
			Confidence:      maxConf,
			OriginalCount:   len(members),
			ContributingIDs: ids,
		})
	}

	sort.Slice(buildings, func(i, j int) bool {
		return buildings[i].ID < buildings[j].ID
	})

	return buildings
}

// envelopeRings returns the axis-aligned bounding rectangle ring
// containing every point of both input rings — the merger's
// envelope/unary-union step.
func envelopeRings(a, b []Point) []Point {
	minX, minY, maxX, maxY := ringBounds(a)
	bMinX, bMinY, bMaxX, bMaxY := ringBounds(b)

	minX = math.Min(minX, bMinX)
	minY = math.Min(minY, bMinY)
	maxX = math.Max(maxX, bMaxX)
	maxY = math.Max(maxY, bMaxY)

	return []Point{
		{Lon: minX, Lat: minY},
		{Lon: maxX, Lat: minY},
		{Lon: maxX, Lat: maxY},
		{Lon: minX, Lat: maxY},
		{Lon: minX, Lat: minY},
	}
}

// unionFind is a sequential disjoint-set with path compression and
// union-by-rank. Merging runs single-threaded after all tiles have been
// collected, so there is no contended concurrent access to design around
// here, unlike a live clustering pipeline.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent, rank: make([]int, n)}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]] // path compression
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}
