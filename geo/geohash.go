package geo

import (
	"github.com/mmcloughlin/geohash"
)

// DefaultPrecision is the cell size used when none is configured (~5km).
const DefaultPrecision uint = 5

// Encode coordinates into a geohash with specified precision.
func Encode(c Coordinate, precision uint) string {
	if precision == 0 {
		precision = DefaultPrecision
	}
	return geohash.EncodeWithPrecision(c.Lat, c.Lng, precision)
}

// Neighbors returns the geohashes of the eight cells around hash.
func Neighbors(hash string) []string {
	return geohash.Neighbors(hash)
}

// Cells returns hash followed by its neighbors.
func Cells(hash string) []string {
	return append([]string{hash}, Neighbors(hash)...)
}
