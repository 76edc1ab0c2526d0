package geo

import (
	"math"
	"math/rand"

	"github.com/fieldops/rove/core/model"
)

const (
	earthRadiusM = 6371000

	// metersPerDegree approximates one degree of latitude.
	metersPerDegree = 111320

	// DefaultJitter randomizes a point by up to roughly 47 meters.
	DefaultJitter = 0.0003
)

// Bounds is the rectangular scan area, south-west to north-east.
type Bounds struct {
	Start model.Point `json:"start"`
	End   model.Point `json:"end"`
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() model.Point {
	return model.Point{
		Lat: (b.Start.Lat + b.End.Lat) / 2,
		Lon: (b.Start.Lon + b.End.Lon) / 2,
	}
}

// Contains reports whether the point falls within the bounds.
func (b Bounds) Contains(p model.Point) bool {
	return p.Lat >= b.Start.Lat && p.Lat <= b.End.Lat &&
		p.Lon >= b.Start.Lon && p.Lon <= b.End.Lon
}

// Distance returns the great-circle distance between two points in meters.
func Distance(a, b model.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

// Randomize offsets the point by up to amount degrees on each axis.
func Randomize(p model.Point, amount float64) model.Point {
	return model.Point{
		Lat: p.Lat + (rand.Float64()*2-1)*amount,
		Lon: p.Lon + (rand.Float64()*2-1)*amount,
	}
}

// StartCoords returns the center of the grid cell assigned to the given
// worker index. The bounds are divided into rows x cols cells, one per
// worker, numbered column-first.
func StartCoords(workerNo, rows, cols int, b Bounds) model.Point {
	perColumn := cols
	column := workerNo % perColumn
	row := workerNo / perColumn
	partLat := (b.End.Lat - b.Start.Lat) / float64(rows)
	partLon := (b.End.Lon - b.Start.Lon) / float64(cols)
	return model.Point{
		Lat: b.Start.Lat + partLat*float64(row) + partLat/2,
		Lon: b.Start.Lon + partLon*float64(column) + partLon/2,
	}
}

// gains returns the latitude and longitude spacing, in degrees, between
// coverage circles of the given radius arranged in a hexagonal pattern.
func gains(b Bounds, radiusM float64) (latGain, lonGain float64) {
	base := radiusM * math.Sqrt(3)
	height := base * math.Sqrt(3) / 2
	latGain = height / metersPerDegree
	lonGain = base / (metersPerDegree * math.Cos(b.Center().Lat*math.Pi/180))
	return latGain, lonGain
}

// CoveragePoints returns a hexagonal grid of points covering the bounds with
// circles of the given radius. Odd rows are offset by half the horizontal
// spacing. The order is shuffled so coverage progresses evenly across the
// area instead of sweeping row by row.
func CoveragePoints(b Bounds, radiusM float64) []model.Point {
	latGain, lonGain := gains(b, radiusM)
	var points []model.Point
	row := 0
	for lat := b.Start.Lat; lat < b.End.Lat; lat += latGain {
		lon := b.Start.Lon
		if row%2 != 0 {
			lon -= 0.5 * lonGain
		}
		for ; lon < b.End.Lon; lon += lonGain {
			points = append(points, model.Point{Lat: lat, Lon: lon})
		}
		row++
	}
	rand.Shuffle(len(points), func(i, j int) {
		points[i], points[j] = points[j], points[i]
	})
	return points
}
