// Package board keeps the set of drivers visible on one map, reconciling
// position sightings into a duplicate-free record set.
package board

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ride-tracking-system/geo"
)

// ErrInvalidSighting is returned when a sighting has an empty id or an
// unusable position. The board is left unchanged.
var ErrInvalidSighting = errors.New("invalid sighting")

// Result tells the caller which branch Reconcile took.
type Result int

const (
	Inserted Result = iota + 1
	Updated
)

func (r Result) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	}
	return "unknown"
}

// Sighting is one reported position for a driver.
type Sighting struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Position returns the sighting's coordinate.
func (s Sighting) Position() geo.Coordinate {
	return geo.Coordinate{Lat: s.Lat, Lng: s.Lng}
}

// Validate reports whether the sighting may be applied to a board.
func (s Sighting) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty driver id", ErrInvalidSighting)
	}
	if err := s.Position().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSighting, err)
	}
	return nil
}

// Record is a driver currently on the board.
type Record struct {
	ID        string         `json:"id"`
	Position  geo.Coordinate `json:"position"`
	Geohash   string         `json:"geohash"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Option configures a Board.
type Option func(*Board)

// WithPrecision sets the geohash precision stored on each record.
func WithPrecision(precision uint) Option {
	return func(b *Board) { b.precision = precision }
}

// WithSpatialIndex backs Nearby with an R-tree instead of a linear scan.
func WithSpatialIndex() Option {
	return func(b *Board) { b.index = geo.NewIndex() }
}

// WithClock sets the clock used to stamp UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(b *Board) { b.now = now }
}

// Board holds at most one Record per driver id. Reconcile calls from
// concurrent producers are serialized.
type Board struct {
	mu        sync.Mutex
	records   map[string]*Record
	order     []string
	index     *geo.Index
	precision uint
	now       func() time.Time
}

// New creates an empty board.
func New(opts ...Option) *Board {
	b := &Board{
		records:   make(map[string]*Record),
		precision: geo.DefaultPrecision,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Reconcile applies s: a known driver is moved in place, an unknown one is
// inserted. Applying the same sighting twice leaves the same state.
func (b *Board) Reconcile(s Sighting) (Result, error) {
	result, _, err := b.Apply(s)
	return result, err
}

// Apply is Reconcile that also returns a copy of the record as stored.
func (b *Board) Apply(s Sighting) (Result, Record, error) {
	if err := s.Validate(); err != nil {
		return 0, Record{}, err
	}
	pos := s.Position()
	hash := geo.Encode(pos, b.precision)

	b.mu.Lock()
	defer b.mu.Unlock()

	result := Updated
	rec, ok := b.records[s.ID]
	if !ok {
		rec = &Record{ID: s.ID}
		b.records[s.ID] = rec
		b.order = append(b.order, s.ID)
		result = Inserted
	}
	rec.Position = pos
	rec.Geohash = hash
	rec.UpdatedAt = b.now()
	if b.index != nil {
		b.index.Upsert(s.ID, pos)
	}
	return result, *rec, nil
}

// Remove drops the driver with the given id and reports whether it existed.
func (b *Board) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.records[id]; !ok {
		return false
	}
	delete(b.records, id)
	for i, known := range b.order {
		if known == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	if b.index != nil {
		b.index.Remove(id)
	}
	return true
}

// Get returns a copy of the record for id.
func (b *Board) Get(id string) (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the number of drivers on the board.
func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Snapshot returns copies of all records in first-seen order.
func (b *Board) Snapshot() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.records[id])
	}
	return out
}

// Nearby returns the records within radius degrees of center, closest first.
func (b *Board) Nearby(center geo.Coordinate, radius float64) ([]Record, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if radius <= 0 {
		return nil, fmt.Errorf("radius must be positive, got %v", radius)
	}

	b.mu.Lock()
	var out []Record
	if b.index != nil {
		for _, id := range b.index.Within(center, radius) {
			if rec, ok := b.records[id]; ok {
				out = append(out, *rec)
			}
		}
	} else {
		for _, id := range b.order {
			rec := b.records[id]
			if geo.Distance(rec.Position, center) <= radius {
				out = append(out, *rec)
			}
		}
	}
	b.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return geo.Distance(out[i].Position, center) < geo.Distance(out[j].Position, center)
	})
	return out, nil
}
