package main

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// TileID identifies one Web Mercator tile.
type TileID struct {
	Z, X, Y int
}

// String renders a tile id as "z/x/y", the donor's on-disk path
// convention for tile coordinates.
func (t TileID) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Bounds returns the tile's geographic bounding box (west, south, east,
// north), built on orb/maptile rather than re-deriving the Web Mercator
// trigonometry by hand.
func (t TileID) Bounds() orb.Bound {
	return maptile.New(uint32(t.X), uint32(t.Y), maptile.Zoom(t.Z)).Bound()
}

// PlanTiles enumerates every tile at the given zoom that intersects the
// bounding box (minLon, minLat, maxLon, maxLat), in row-major order
// (y ascending, then x ascending within each row) so that resume logic
// can rely on a stable, reproducible tile ordering.
func PlanTiles(minLon, minLat, maxLon, maxLat float64, zoom int) []TileID {
	minTile := maptile.At(orb.Point{minLon, maxLat}, maptile.Zoom(zoom))
	maxTile := maptile.At(orb.Point{maxLon, minLat}, maptile.Zoom(zoom))

	minX, maxX := minTile.X, maxTile.X
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := minTile.Y, maxTile.Y
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	var tiles []TileID
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tiles = append(tiles, TileID{Z: zoom, X: int(x), Y: int(y)})
		}
	}
	return tiles
}

// BoundingBoxOfRings returns the smallest axis-aligned box containing
// every point of every ring, used to turn a polygon into the bbox the
// tile planner tiles over.
func BoundingBoxOfRings(rings [][]Point) (minLon, minLat, maxLon, maxLat float64, err error) {
	first := true
	for _, ring := range rings {
		for _, p := range ring {
			if first {
				minLon, maxLon = p.Lon, p.Lon
				minLat, maxLat = p.Lat, p.Lat
				first = false
				continue
			}
			if p.Lon < minLon {
				minLon = p.Lon
			}
			if p.Lon > maxLon {
				maxLon = p.Lon
			}
			if p.Lat < minLat {
				minLat = p.Lat
			}
			if p.Lat > maxLat {
				maxLat = p.Lat
			}
		}
	}
	if first {
		return 0, 0, 0, 0, fmt.Errorf("no points to compute a bounding box from")
	}
	return minLon, minLat, maxLon, maxLat, nil
}

// pixelToLonLat reprojects a pixel coordinate within a 256x256 tile image
// into geographic space, flipping the Y axis since image row 0 is the
// tile's north edge while geographic latitude increases northward.
func pixelToLonLat(tile TileID, px, py, tileSizePixels float64) (lon, lat float64) {
	b := tile.Bounds()
	fx := px / tileSizePixels
	fy := 1 - py/tileSizePixels // flip: image top -> geographic north

	lon = b.Min[0] + fx*(b.Max[0]-b.Min[0])
	lat = b.Min[1] + fy*(b.Max[1]-b.Min[1])
	return lon, lat
}
