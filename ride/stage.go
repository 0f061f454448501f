package ride

import "fmt"

// Stage is a named point in a ride's lifecycle. Stages only move forward.
type Stage int

const (
	RequestRide Stage = iota
	TripAccepted
	PickupPassenger
	TripInProgress
	EndTrip
)

var stageNames = map[Stage]string{
	RequestRide:     "request_ride",
	TripAccepted:    "trip_accepted",
	PickupPassenger: "pickup_passenger",
	TripInProgress:  "trip_in_progress",
	EndTrip:         "end_trip",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Valid reports whether s is one of the defined stages.
func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

// Terminal reports whether no stage follows s.
func (s Stage) Terminal() bool {
	return s == EndTrip
}

// Next returns the stage that follows s.
func (s Stage) Next() (Stage, bool) {
	if !s.Valid() || s.Terminal() {
		return s, false
	}
	return s + 1, true
}

// ParseStage converts a wire name such as "trip_accepted" into a Stage.
func ParseStage(name string) (Stage, error) {
	for stage, n := range stageNames {
		if n == name {
			return stage, nil
		}
	}
	return 0, fmt.Errorf("unknown ride stage %q", name)
}

func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown ride stage %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	stage, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = stage
	return nil
}

// ActionKind is the affordance offered by the ride panel's button.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionRequestRide
	ActionCancel
	ActionGetDirections
	ActionPickup
	ActionDropOff
)

var actionNames = map[ActionKind]string{
	ActionNone:          "none",
	ActionRequestRide:   "request_ride",
	ActionCancel:        "cancel",
	ActionGetDirections: "get_directions",
	ActionPickup:        "pickup",
	ActionDropOff:       "drop_off",
}

// Label returns the button caption for the action.
func (a ActionKind) Label() string {
	switch a {
	case ActionRequestRide:
		return "CONFIRM UBERX"
	case ActionCancel:
		return "CANCEL RIDE"
	case ActionGetDirections:
		return "GET DIRECTIONS"
	case ActionPickup:
		return "PICKUP PASSENGER"
	case ActionDropOff:
		return "DROP OFF PASSENGER"
	}
	return ""
}

func (a ActionKind) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

func (a ActionKind) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *ActionKind) UnmarshalText(text []byte) error {
	for kind, name := range actionNames {
		if name == string(text) {
			*a = kind
			return nil
		}
	}
	return fmt.Errorf("unknown ride action %q", text)
}
