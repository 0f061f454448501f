// Package session isolates the driver board and ride state of each map
// screen so that concurrent rides never share mutable state.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ride-tracking-system/board"
	"ride-tracking-system/geo"
	"ride-tracking-system/ride"
)

// ErrNotFound is returned for session ids the manager does not hold.
var ErrNotFound = errors.New("session not found")

// Session owns one board and one ride. All access is serialized.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu    sync.Mutex
	board *board.Board
	ride  *ride.State
}

// Reconcile applies a driver sighting to the session's board.
func (s *Session) Reconcile(sighting board.Sighting) (board.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Reconcile(sighting)
}

// Apply reconciles sighting and returns the record it produced. The record is
// read under the same lock as the write, so it is never older than the board.
func (s *Session) Apply(sighting board.Sighting) (board.Result, board.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Apply(sighting)
}

// RemoveDriver drops a driver from the session's board.
func (s *Session) RemoveDriver(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Remove(id)
}

// Driver returns the board record for id.
func (s *Session) Driver(id string) (board.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Get(id)
}

func (s *Session) Drivers() []board.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Snapshot()
}

func (s *Session) NearbyDrivers(center geo.Coordinate, radius float64) ([]board.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Nearby(center, radius)
}

// Descriptor returns the ride panel descriptor.
func (s *Session) Descriptor() ride.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ride.Descriptor()
}

// Advance moves the ride to target.
func (s *Session) Advance(target ride.Stage) (ride.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ride.Advance(target)
}

// SetDestination attaches a destination and returns the refreshed descriptor.
func (s *Session) SetDestination(name, address string) ride.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ride.SetDestination(name, address)
	return s.ride.Descriptor()
}

// Destination returns the destination attached to the ride.
func (s *Session) Destination() ride.Destination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ride.Destination()
}

// Manager creates, looks up and ends sessions.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	boardOpts []board.Option
	now       func() time.Time
}

// NewManager returns a manager whose sessions build boards with opts.
func NewManager(opts ...board.Option) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		boardOpts: opts,
		now:       time.Now,
	}
}

// Create starts a session at RequestRide with an empty board.
func (m *Manager) Create() *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: m.now(),
		board:     board.New(m.boardOpts...),
		ride:      ride.NewState(),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// End discards the session.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
