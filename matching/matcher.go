package matching

import (
	"context"
	"errors"
	"fmt"

	"ride-tracking-system/board"
	"ride-tracking-system/geo"
)

// ErrNoDriverNearby is returned when every search radius came back empty.
var ErrNoDriverNearby = errors.New("no drivers nearby")

const (
	DefaultRadius     = 0.01
	DefaultMaxRetries = 6
)

// DriverFinder searches one board by radius. session.Session implements it.
type DriverFinder interface {
	NearbyDrivers(center geo.Coordinate, radius float64) ([]board.Record, error)
}

// CellFinder lists the drivers cached in the geohash cell around a point and
// its neighbors. cache.DriverCache implements it.
type CellFinder interface {
	NearbyDrivers(ctx context.Context, sessionID string, center geo.Coordinate) ([]board.Record, error)
}

// FindNearestDriver searches around center, doubling the radius after each
// empty attempt, and returns the closest driver found.
func FindNearestDriver(finder DriverFinder, center geo.Coordinate, radius float64, maxRetries int) (board.Record, error) {
	if radius <= 0 {
		radius = DefaultRadius
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	for i := 0; i < maxRetries; i++ {
		drivers, err := finder.NearbyDrivers(center, radius)
		if err != nil {
			return board.Record{}, err
		}
		if len(drivers) > 0 {
			return drivers[0], nil
		}
		radius *= 2
	}
	return board.Record{}, fmt.Errorf("%w after %d attempts", ErrNoDriverNearby, maxRetries)
}

// FindNearestCachedDriver returns the closest driver cached for sessionID in
// the cell containing center or one of its neighbors.
func FindNearestCachedDriver(ctx context.Context, finder CellFinder, sessionID string, center geo.Coordinate) (board.Record, error) {
	drivers, err := finder.NearbyDrivers(ctx, sessionID, center)
	if err != nil {
		return board.Record{}, err
	}
	if len(drivers) == 0 {
		return board.Record{}, fmt.Errorf("%w in cells around %s", ErrNoDriverNearby, geo.Encode(center, geo.DefaultPrecision))
	}
	return drivers[0], nil
}
