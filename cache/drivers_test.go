package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-tracking-system/board"
	"ride-tracking-system/config"
	"ride-tracking-system/geo"
)

func newTestCache(t *testing.T) (*DriverCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewDriverCache(rdb, 5), mr
}

func record(id string, lat, lng float64) board.Record {
	pos := geo.Coordinate{Lat: lat, Lng: lng}
	return board.Record{ID: id, Position: pos, Geohash: geo.Encode(pos, 5)}
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	rdb.Close()

	_, err = NewRedisClient(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestStoreAndMove(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	first := record("d1", 37.7749, -122.4194)
	require.NoError(t, c.Store(ctx, "s1", first))

	got, err := c.Driver(ctx, "s1", "d1")
	require.NoError(t, err)
	assert.Equal(t, first, got)

	ids, err := c.InCell(ctx, "s1", first.Geohash)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, ids)

	moved := record("d1", 40.7128, -74.0060)
	require.NotEqual(t, first.Geohash, moved.Geohash)
	require.NoError(t, c.Store(ctx, "s1", moved))

	ids, err = c.InCell(ctx, "s1", first.Geohash)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = c.InCell(ctx, "s1", moved.Geohash)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, ids)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	rec := record("d1", 1, 1)
	require.NoError(t, c.Store(ctx, "s1", rec))
	require.NoError(t, c.Remove(ctx, "s1", "d1"))

	_, err := c.Driver(ctx, "s1", "d1")
	assert.True(t, errors.Is(err, ErrNotCached))
	assert.False(t, mr.Exists(cellKey("s1", rec.Geohash)))

	assert.NoError(t, c.Remove(ctx, "s1", "never-seen"))
}

func TestClearSession(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Store(ctx, "s1", record("a", 1, 1)))
	require.NoError(t, c.Store(ctx, "s1", record("b", 2, 2)))
	require.NoError(t, c.Store(ctx, "s2", record("a", 1, 1)))

	require.NoError(t, c.ClearSession(ctx, "s1"))

	_, err := c.Driver(ctx, "s1", "a")
	assert.True(t, errors.Is(err, ErrNotCached))
	_, err = c.Driver(ctx, "s2", "a")
	assert.NoError(t, err)
	assert.Len(t, mr.Keys(), 2)
}

func TestStoreIgnoresOlderRecord(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	newer := record("d1", 40.7128, -74.0060)
	newer.UpdatedAt = time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC)
	older := record("d1", 37.7749, -122.4194)
	older.UpdatedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.Store(ctx, "s1", newer))
	require.NoError(t, c.Store(ctx, "s1", older))

	got, err := c.Driver(ctx, "s1", "d1")
	require.NoError(t, err)
	assert.Equal(t, newer, got)

	ids, err := c.InCell(ctx, "s1", older.Geohash)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestConcurrentStoreKeepsOneCell(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	positions := []geo.Coordinate{
		{Lat: 37.7749, Lng: -122.4194},
		{Lat: 40.7128, Lng: -74.0060},
		{Lat: 51.5074, Lng: -0.1278},
		{Lat: 35.6762, Lng: 139.6503},
		{Lat: -33.8688, Lng: 151.2093},
	}

	for round := 0; round < 50; round++ {
		sessionID := fmt.Sprintf("s%d", round)
		require.NoError(t, c.Store(ctx, sessionID, record("d1", positions[0].Lat, positions[0].Lng)))

		var wg sync.WaitGroup
		for _, pos := range positions[1:] {
			wg.Add(1)
			go func(pos geo.Coordinate) {
				defer wg.Done()
				assert.NoError(t, c.Store(ctx, sessionID, record("d1", pos.Lat, pos.Lng)))
			}(pos)
		}
		wg.Wait()

		var holding []string
		for _, key := range mr.Keys() {
			if !strings.HasPrefix(key, cellKey(sessionID, "")) {
				continue
			}
			members, err := mr.Members(key)
			require.NoError(t, err)
			if len(members) > 0 {
				holding = append(holding, key)
			}
		}
		require.Len(t, holding, 1, "round %d: driver held by %v", round, holding)

		cached, err := c.Driver(ctx, sessionID, "d1")
		require.NoError(t, err)
		assert.Equal(t, cellKey(sessionID, cached.Geohash), holding[0])
	}
}

func TestNearbyDrivers(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	center := geo.Coordinate{Lat: 37.7749, Lng: -122.4194}
	near := record("near", 37.7750, -122.4195)
	neighbor := record("neighbor", 37.7749+0.05, -122.4194)
	far := record("far", 40.7128, -74.0060)
	for _, rec := range []board.Record{far, neighbor, near} {
		require.NoError(t, c.Store(ctx, "s1", rec))
	}
	require.NotEqual(t, near.Geohash, neighbor.Geohash)

	got, err := c.NearbyDrivers(ctx, "s1", center)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "neighbor", got[1].ID)

	got, err = c.NearbyDrivers(ctx, "s2", center)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = c.NearbyDrivers(ctx, "s1", geo.Coordinate{Lat: 91})
	assert.True(t, errors.Is(err, geo.ErrInvalidCoordinate))
}
