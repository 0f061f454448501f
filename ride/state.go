// Package ride holds the stage of a single ride and projects it onto the
// text, button and action shown by the ride panel.
package ride

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when an event does not name the
// immediate successor of the current stage. The stage is left unchanged.
var ErrIllegalTransition = errors.New("illegal ride transition")

// EnRouteTitle is shown while the driver heads to the passenger.
const EnRouteTitle = "En Route To Passenger"

// Destination is where the passenger asked to go.
type Destination struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Descriptor is the view-ready projection of a stage. It is recomputed on
// every call and never cached.
type Descriptor struct {
	Stage       Stage      `json:"stage"`
	TitleText   string     `json:"title_text"`
	AddressText string     `json:"address_text"`
	ButtonLabel string     `json:"button_label"`
	Action      ActionKind `json:"action"`
}

// DescriptorFor maps a stage and destination to its descriptor.
func DescriptorFor(stage Stage, dest Destination) Descriptor {
	d := Descriptor{
		Stage:       stage,
		TitleText:   dest.Name,
		AddressText: dest.Address,
	}
	switch stage {
	case RequestRide:
		d.Action = ActionRequestRide
	case TripAccepted:
		d.TitleText = EnRouteTitle
		d.Action = ActionGetDirections
	case PickupPassenger:
		d.Action = ActionPickup
	case TripInProgress:
		d.Action = ActionNone
	case EndTrip:
		d.Action = ActionDropOff
	}
	d.ButtonLabel = d.Action.Label()
	return d
}

// State is the ride-action state machine for one ride. It starts at
// RequestRide and is not safe for concurrent use.
type State struct {
	stage       Stage
	destination Destination
}

// NewState returns a ride at RequestRide with no destination.
func NewState() *State {
	return &State{stage: RequestRide}
}

// Stage returns the current stage.
func (s *State) Stage() Stage {
	return s.stage
}

// Destination returns the destination attached to the ride.
func (s *State) Destination() Destination {
	return s.destination
}

// Descriptor returns the descriptor for the current stage.
func (s *State) Descriptor() Descriptor {
	return DescriptorFor(s.stage, s.destination)
}

// Advance moves the ride into target, which must directly follow the
// current stage.
func (s *State) Advance(target Stage) (Descriptor, error) {
	next, ok := s.stage.Next()
	if !ok {
		return s.Descriptor(), fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, s.stage)
	}
	if target != next {
		return s.Descriptor(), fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.stage, target)
	}
	s.stage = target
	return s.Descriptor(), nil
}

// SetDestination attaches the destination. It is legal at any stage.
func (s *State) SetDestination(name, address string) {
	s.destination = Destination{Name: name, Address: address}
}
