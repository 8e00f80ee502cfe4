// Package grid converts an origin and grid shape into concrete lat/lng
// sample points.
package grid

import "math"

// MilesPerDegreeLatitude is the approximate surface distance of one degree
// of latitude.
const MilesPerDegreeLatitude = 69.0

// Point is one grid coordinate, indexed by its row and column.
type Point struct {
	RowIndex int
	ColIndex int
	Lat      float64
	Lng      float64
}

// BuildPoints lays out rows*cols points spaced spacingMiles apart and
// centered on the origin. Longitude spacing is compensated for meridian
// convergence at the origin latitude. Coordinates are rounded to six
// decimals. Degenerate input yields an empty grid.
func BuildPoints(lat, lng float64, rows, cols int, spacingMiles float64) []Point {
	if rows < 1 || cols < 1 || spacingMiles <= 0 {
		return nil
	}
	if !isFinite(lat) || !isFinite(lng) || !isFinite(spacingMiles) {
		return nil
	}

	latStep := spacingMiles / MilesPerDegreeLatitude
	lngStep := spacingMiles / (MilesPerDegreeLatitude * math.Cos(lat*math.Pi/180))
	if !isFinite(lngStep) {
		return nil
	}

	rowCenter := float64(rows-1) / 2
	colCenter := float64(cols-1) / 2

	points := make([]Point, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			points = append(points, Point{
				RowIndex: r,
				ColIndex: c,
				Lat:      round6(lat + (float64(r)-rowCenter)*latStep),
				Lng:      round6(lng + (float64(c)-colCenter)*lngStep),
			})
		}
	}
	return points
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
