package grid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPointsCentroidIsOrigin(t *testing.T) {
	t.Parallel()

	const lat, lng = 33.45, -112.07
	points := BuildPoints(lat, lng, 5, 7, 1.5)
	require.Len(t, points, 35)

	var sumLat, sumLng float64
	for _, p := range points {
		sumLat += p.Lat
		sumLng += p.Lng
	}
	require.InDelta(t, lat, sumLat/float64(len(points)), 1e-5)
	require.InDelta(t, lng, sumLng/float64(len(points)), 1e-5)
}

func TestBuildPointsSymmetricUnderReflection(t *testing.T) {
	t.Parallel()

	const lat, lng = 40.7128, -74.0060
	rows, cols := 4, 6
	points := BuildPoints(lat, lng, rows, cols, 0.8)
	require.Len(t, points, rows*cols)

	byIndex := make(map[[2]int]Point, len(points))
	for _, p := range points {
		byIndex[[2]int{p.RowIndex, p.ColIndex}] = p
	}

	for _, p := range points {
		mirrorRow := byIndex[[2]int{rows - 1 - p.RowIndex, p.ColIndex}]
		require.InDelta(t, p.Lat-lat, -(mirrorRow.Lat - lat), 1e-5)
		require.InDelta(t, p.Lng, mirrorRow.Lng, 1e-9)

		mirrorCol := byIndex[[2]int{p.RowIndex, cols - 1 - p.ColIndex}]
		require.InDelta(t, p.Lng-lng, -(mirrorCol.Lng - lng), 1e-5)
		require.InDelta(t, p.Lat, mirrorCol.Lat, 1e-9)
	}
}

func TestBuildPointsCornersAtRadius(t *testing.T) {
	t.Parallel()

	// 5x5 grid with a 3 mile radius: spacing 2*3/(5-1) = 1.5 miles, so each
	// corner sits 3.0 miles from the origin along both axes.
	const lat, lng, radius = 33.45, -112.07, 3.0
	points := BuildPoints(lat, lng, 5, 5, 2*radius/4)
	require.Len(t, points, 25)

	cosLat := math.Cos(lat * math.Pi / 180)
	for _, p := range points {
		if (p.RowIndex != 0 && p.RowIndex != 4) || (p.ColIndex != 0 && p.ColIndex != 4) {
			continue
		}
		latMiles := math.Abs(p.Lat-lat) * MilesPerDegreeLatitude
		lngMiles := math.Abs(p.Lng-lng) * MilesPerDegreeLatitude * cosLat
		require.InDelta(t, radius, latMiles, 0.001)
		require.InDelta(t, radius, lngMiles, 0.001)
	}
}

func TestBuildPointsUniqueIndexesSpanGrid(t *testing.T) {
	t.Parallel()

	rows, cols := 3, 4
	points := BuildPoints(10, 10, rows, cols, 1)
	seen := make(map[[2]int]bool)
	for _, p := range points {
		require.GreaterOrEqual(t, p.RowIndex, 0)
		require.Less(t, p.RowIndex, rows)
		require.GreaterOrEqual(t, p.ColIndex, 0)
		require.Less(t, p.ColIndex, cols)
		key := [2]int{p.RowIndex, p.ColIndex}
		require.False(t, seen[key], "duplicate cell %v", key)
		seen[key] = true
	}
	require.Len(t, seen, rows*cols)
}

func TestBuildPointsDegenerateInput(t *testing.T) {
	t.Parallel()

	require.Empty(t, BuildPoints(33.45, -112.07, 0, 5, 1.5))
	require.Empty(t, BuildPoints(33.45, -112.07, 5, -1, 1.5))
	require.Empty(t, BuildPoints(33.45, -112.07, 5, 5, 0))
	require.Empty(t, BuildPoints(math.NaN(), -112.07, 5, 5, 1.5))
	require.Empty(t, BuildPoints(33.45, math.Inf(1), 5, 5, 1.5))
}

func TestBuildPointsSingleCell(t *testing.T) {
	t.Parallel()

	points := BuildPoints(33.45, -112.07, 1, 1, 1.5)
	require.Len(t, points, 1)
	require.InDelta(t, 33.45, points[0].Lat, 1e-9)
	require.InDelta(t, -112.07, points[0].Lng, 1e-9)
}
