package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
)

// building mirrors the root package's Building JSON shape without
// importing it, since cmd/ tools are kept dependency-free of the server
// package the way the donor's standalone analysis tools were.
type building struct {
	ID        int     `json:"id"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: compare-runs <old-result.json> <new-result.json>")
		fmt.Println("Example: compare-runs baseline.json candidate.json")
		os.Exit(1)
	}

	oldPath := os.Args[1]
	newPath := os.Args[2]

	oldBuildings, err := loadBuildings(oldPath)
	if err != nil {
		fmt.Printf("Error loading old result: %v\n", err)
		os.Exit(1)
	}

	newBuildings, err := loadBuildings(newPath)
	if err != nil {
		fmt.Printf("Error loading new result: %v\n", err)
		os.Exit(1)
	}

	compare(oldBuildings, newBuildings, oldPath, newPath)
}

func loadBuildings(path string) ([]building, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Buildings []building `json:"buildings"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && len(payload.Buildings) > 0 {
		return payload.Buildings, nil
	}

	var buildings []building
	if err := json.Unmarshal(data, &buildings); err != nil {
		return nil, err
	}
	return buildings, nil
}

// compare reports count deltas and matches each old building to its
// nearest new building by centroid distance, flagging anything beyond a
// small tolerance as moved/missing. This is a regression check between
// two detection runs over the same area, not a semantic diff.
func compare(old, new []building, oldPath, newPath string) {
	fmt.Println(strings.Repeat("=", 70))
	fmt.Println("Detection Run Comparison")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("OLD: %s (%d buildings)\n", oldPath, len(old))
	fmt.Printf("NEW: %s (%d buildings)\n", newPath, len(new))
	fmt.Println()

	diff := len(new) - len(old)
	switch {
	case diff > 0:
		fmt.Printf("Count difference: +%d (NEW has more)\n", diff)
	case diff < 0:
		fmt.Printf("Count difference: %d (NEW has fewer)\n", diff)
	default:
		fmt.Println("Count difference: 0 (equal)")
	}
	fmt.Println()

	const matchToleranceDeg = 0.0002 // roughly 20 meters

	var matched, moved, missing int
	for _, o := range old {
		nearest, dist := nearestBuilding(o, new)
		if nearest == nil {
			missing++
			continue
		}
		if dist > matchToleranceDeg {
			moved++
		} else {
			matched++
		}
	}

	fmt.Println("Matching (OLD -> nearest NEW):")
	fmt.Printf("  Matched within tolerance: %d\n", matched)
	fmt.Printf("  Matched but moved:        %d\n", moved)
	fmt.Printf("  Missing from NEW:         %d\n", missing)
	fmt.Println()

	extra := countUnmatched(new, old, matchToleranceDeg)
	fmt.Printf("Buildings in NEW with no OLD match: %d\n", extra)
	fmt.Println(strings.Repeat("=", 70))
}

func nearestBuilding(target building, candidates []building) (*building, float64) {
	var best *building
	bestDist := math.MaxFloat64
	for i := range candidates {
		d := math.Hypot(target.Longitude-candidates[i].Longitude, target.Latitude-candidates[i].Latitude)
		if d < bestDist {
			bestDist = d
			best = &candidates[i]
		}
	}
	return best, bestDist
}

func countUnmatched(set, against []building, tolerance float64) int {
	count := 0
	for _, b := range set {
		_, dist := nearestBuilding(b, against)
		if dist > tolerance {
			count++
		}
	}
	return count
}
