package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	"ride-tracking-system/board"
	"ride-tracking-system/geo"
)

var (
	// ErrNotCached is returned when a driver has no cached record.
	ErrNotCached = errors.New("driver not cached")
	// ErrContended is returned when a driver key kept changing under a write.
	ErrContended = errors.New("driver cache write contended")
)

const maxWatchRetries = 100

func driverKey(sessionID, driverID string) string {
	return fmt.Sprintf("driver:%s:%s", sessionID, driverID)
}

func cellKey(sessionID, hash string) string {
	return fmt.Sprintf("drivers:%s:%s", sessionID, hash)
}

// DriverCache mirrors session boards into Redis: one JSON value per driver
// and one set of driver ids per geohash cell. precision must match the
// boards the records come from.
type DriverCache struct {
	rdb       *redis.Client
	precision uint
}

func NewDriverCache(rdb *redis.Client, precision uint) *DriverCache {
	if precision == 0 {
		precision = geo.DefaultPrecision
	}
	return &DriverCache{rdb: rdb, precision: precision}
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func loadDriver(ctx context.Context, g getter, sessionID, driverID string) (board.Record, error) {
	var rec board.Record
	raw, err := g.Get(ctx, driverKey(sessionID, driverID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return rec, fmt.Errorf("%w: %s", ErrNotCached, driverID)
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("decode cached driver %s: %w", driverID, err)
	}
	return rec, nil
}

// Driver returns the cached record for a driver.
func (c *DriverCache) Driver(ctx context.Context, sessionID, driverID string) (board.Record, error) {
	return loadDriver(ctx, c.rdb, sessionID, driverID)
}

// watch runs fn in a WATCH on the driver key, retrying while another client
// changes the key between the read and EXEC.
func (c *DriverCache) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := c.rdb.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("%w: %s", ErrContended, key)
}

// Store writes rec and moves it to its current geohash cell. The previous
// record is read and replaced in one transaction, so concurrent stores of the
// same driver leave it in exactly one cell. A record older than the cached
// one is ignored.
func (c *DriverCache) Store(ctx context.Context, sessionID string, rec board.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	key := driverKey(sessionID, rec.ID)
	return c.watch(ctx, key, func(tx *redis.Tx) error {
		prev, err := loadDriver(ctx, tx, sessionID, rec.ID)
		if err != nil && !errors.Is(err, ErrNotCached) {
			return err
		}
		if prev.UpdatedAt.After(rec.UpdatedAt) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prev.Geohash != "" && prev.Geohash != rec.Geohash {
				pipe.SRem(ctx, cellKey(sessionID, prev.Geohash), rec.ID)
			}
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, cellKey(sessionID, rec.Geohash), rec.ID)
			return nil
		})
		return err
	})
}

// Remove deletes a driver and its cell membership.
func (c *DriverCache) Remove(ctx context.Context, sessionID, driverID string) error {
	key := driverKey(sessionID, driverID)
	return c.watch(ctx, key, func(tx *redis.Tx) error {
		prev, err := loadDriver(ctx, tx, sessionID, driverID)
		if errors.Is(err, ErrNotCached) {
			return nil
		}
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, cellKey(sessionID, prev.Geohash), driverID)
			return nil
		})
		return err
	})
}

// InCell lists the driver ids cached in a geohash cell.
func (c *DriverCache) InCell(ctx context.Context, sessionID, hash string) ([]string, error) {
	return c.rdb.SMembers(ctx, cellKey(sessionID, hash)).Result()
}

// NearbyDrivers returns the cached drivers in the cell containing center and
// in its eight neighbors, closest first.
func (c *DriverCache) NearbyDrivers(ctx context.Context, sessionID string, center geo.Coordinate) ([]board.Record, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}

	var out []board.Record
	for _, hash := range geo.Cells(geo.Encode(center, c.precision)) {
		ids, err := c.InCell(ctx, sessionID, hash)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			rec, err := c.Driver(ctx, sessionID, id)
			if errors.Is(err, ErrNotCached) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return geo.Distance(out[i].Position, center) < geo.Distance(out[j].Position, center)
	})
	return out, nil
}

// ClearSession deletes every key written for a session.
func (c *DriverCache) ClearSession(ctx context.Context, sessionID string) error {
	for _, pattern := range []string{driverKey(sessionID, "*"), cellKey(sessionID, "*")} {
		iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}
