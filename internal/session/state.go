package session

import "fmt"

// State is the session's position in the link lifecycle.
type State int

const (
	StateClosed State = iota
	// StateProbing is held while the bitrate is being detected.
	StateProbing
	// StateReady means the link is up and the laser is off.
	StateReady
	// StateIdle means the laser is on and no acquisition is running.
	StateIdle
	// StateSingleShot means a one-frame fetch owns the port.
	StateSingleShot
	// StateStreaming means a continuous acquisition owns the port.
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateProbing:
		return "probing"
	case StateReady:
		return "ready"
	case StateIdle:
		return "idle"
	case StateSingleShot:
		return "single-shot"
	case StateStreaming:
		return "streaming"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// commandStates are the states in which the session may use the port.
var commandStates = []State{StateReady, StateIdle}
