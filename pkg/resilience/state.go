// Package resilience owns connection state for one adapter instance:
// periodic health checks, classified auto-reconnect with backoff, and
// status events. All other components only read the state.
package resilience

import "fmt"

// State is the connection state. Owned exclusively by the Manager.
type State int

const (
	StateUnknown State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "Unknown"
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateError:
		return "Error"
	default:
		return "InvalidState"
	}
}

func (s State) validateTransitionTo(newState State) error {
	switch s {
	case StateDisconnected:
		switch newState {
		case StateConnecting, StateDisconnected:
			return nil
		}
	case StateConnecting:
		switch newState {
		case StateConnected, StateError, StateDisconnected:
			return nil
		}
	case StateConnected:
		switch newState {
		// Connected to Error happens when a health check or a classified
		// I/O failure reports connection loss.
		case StateError, StateDisconnected:
			return nil
		}
	case StateError:
		switch newState {
		// Error to Connecting starts a reconnect attempt; Error to
		// Disconnected means the attempts are exhausted.
		case StateConnecting, StateDisconnected:
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", s, newState)
}

// StatusEvent is emitted on every state change.
type StatusEvent struct {
	State   State
	Message string
	Err     error
}
