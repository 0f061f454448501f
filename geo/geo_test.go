package geo

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinateValidate(t *testing.T) {
	tests := []struct {
		name  string
		coord Coordinate
		valid bool
	}{
		{"origin", Coordinate{0, 0}, true},
		{"san francisco", Coordinate{37.7749, -122.4194}, true},
		{"poles and antimeridian", Coordinate{-90, 180}, true},
		{"latitude too high", Coordinate{90.0001, 0}, false},
		{"longitude too low", Coordinate{0, -180.5}, false},
		{"nan latitude", Coordinate{math.NaN(), 0}, false},
		{"infinite longitude", Coordinate{0, math.Inf(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coord.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidCoordinate))
		})
	}
}

func TestEncode(t *testing.T) {
	sf := Coordinate{37.7749, -122.4194}

	assert.Equal(t, "9q8yy", Encode(sf, 5))
	assert.Equal(t, Encode(sf, DefaultPrecision), Encode(sf, 0), "zero precision falls back to default")
	assert.Len(t, Neighbors("9q8yy"), 8)

	cells := Cells("9q8yy")
	require.Len(t, cells, 9)
	assert.Equal(t, "9q8yy", cells[0])
}

func TestIndex(t *testing.T) {
	t.Run("upsert moves existing point", func(t *testing.T) {
		idx := NewIndex()
		idx.Upsert("d1", Coordinate{37.0, -122.0})
		idx.Upsert("d1", Coordinate{10.0, 10.0})

		assert.Equal(t, 1, idx.Len())
		assert.Empty(t, idx.Within(Coordinate{37.0, -122.0}, 0.5))
		assert.Equal(t, []string{"d1"}, idx.Within(Coordinate{10.0, 10.0}, 0.5))
	})

	t.Run("within filters by radius", func(t *testing.T) {
		idx := NewIndex()
		idx.Upsert("near", Coordinate{37.01, -122.01})
		idx.Upsert("edge", Coordinate{37.3, -122.3})
		idx.Upsert("far", Coordinate{40.0, -100.0})

		ids := idx.Within(Coordinate{37.0, -122.0}, 0.1)
		assert.Equal(t, []string{"near"}, ids)

		ids = idx.Within(Coordinate{37.0, -122.0}, 0.5)
		sort.Strings(ids)
		assert.Equal(t, []string{"edge", "near"}, ids)

		assert.Nil(t, idx.Within(Coordinate{37.0, -122.0}, 0))
	})

	t.Run("remove", func(t *testing.T) {
		idx := NewIndex()
		idx.Upsert("d1", Coordinate{1, 1})

		assert.True(t, idx.Remove("d1"))
		assert.False(t, idx.Remove("d1"))
		assert.Equal(t, 0, idx.Len())
		assert.Empty(t, idx.Within(Coordinate{1, 1}, 1))
	})
}
