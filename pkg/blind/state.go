package blind

import (
	"sync"

	"github.com/srg/tuiss/internal/protocol"
)

// Direction of travel. Opening raises the device-space position.
type Direction int

const (
	Closing Direction = -1
	Idle    Direction = 0
	Opening Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Opening:
		return "opening"
	case Closing:
		return "closing"
	default:
		return "idle"
	}
}

// CoverState is the coarse state exposed to home automation surfaces.
type CoverState string

const (
	StateOpening CoverState = "opening"
	StateClosing CoverState = "closing"
	StateOpen    CoverState = "open"
	StateClosed  CoverState = "closed"
	StateUnknown CoverState = "unknown"
)

// openThreshold is the lowest position still reported as open.
const openThreshold = 25

// State is a point-in-time copy of a blind's fields.
type State struct {
	Address         string                 `json:"address"`
	Name            string                 `json:"name"`
	Model           string                 `json:"model,omitempty"`
	Moving          Direction              `json:"moving"`
	Stopping        bool                   `json:"stopping"`
	Locked          bool                   `json:"locked"`
	CurrentPosition *float64               `json:"current_position"`
	DesiredPosition *float64               `json:"desired_position"`
	TraversalSpeed  *float64               `json:"traversal_speed"`
	Battery         protocol.BatteryStatus `json:"-"`
	BatteryStatus   string                 `json:"battery"`
	RSSI            *int                   `json:"rssi"`
	Speed           string                 `json:"speed"`
}

// Cover derives the cover state from motion and position.
func (s State) Cover() CoverState {
	switch {
	case s.Moving > 0:
		return StateOpening
	case s.Moving < 0:
		return StateClosing
	case s.CurrentPosition == nil:
		return StateUnknown
	case *s.CurrentPosition >= openThreshold:
		return StateOpen
	default:
		return StateClosed
	}
}

// IsClosed reports a fully closed blind; unknown position is not closed.
func (s State) IsClosed() bool {
	return s.CurrentPosition != nil && *s.CurrentPosition == 0
}

// state holds the mutable fields shared by the motion controller and the facade.
type state struct {
	mu sync.Mutex

	moving   Direction
	stopping bool
	locked   bool
	moveGen  uint64

	position *float64
	desired  *float64
	speed    *float64

	battery protocol.BatteryStatus
	rssi    *int
	model   string
}

func ptr[T any](v T) *T {
	return &v
}

func clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return ptr(*p)
}
