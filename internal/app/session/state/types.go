// Package state provides session connection state management.
package state

import "fmt"

// Phase represents the engine connection lifecycle phase.
type Phase int

const (
	PhaseDisconnected Phase = iota // No engine connection
	PhaseConnecting                // Connect in flight
	PhaseReady                     // Engine connected, commands flow
	PhaseError                     // Connect failed, terminal for this generation
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseReady:
		return "ready"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// State is a phase plus the failure reason for PhaseError.
type State struct {
	Phase  Phase
	Reason string
}

// Disconnected returns the initial state.
func Disconnected() State { return State{Phase: PhaseDisconnected} }

// Connecting returns the connecting state.
func Connecting() State { return State{Phase: PhaseConnecting} }

// Ready returns the ready state.
func Ready() State { return State{Phase: PhaseReady} }

// Failed returns an error state carrying reason.
func Failed(reason string) State { return State{Phase: PhaseError, Reason: reason} }

// IsReady reports whether commands can be executed.
func (s State) IsReady() bool { return s.Phase == PhaseReady }

// String returns the phase, followed by the reason for error states.
func (s State) String() string {
	if s.Phase == PhaseError && s.Reason != "" {
		return fmt.Sprintf("%s(%s)", s.Phase, s.Reason)
	}
	return s.Phase.String()
}

// CanTransition reports whether moving from one phase to another is legal.
func CanTransition(from, to Phase) bool {
	switch from {
	case PhaseDisconnected:
		return to == PhaseConnecting
	case PhaseConnecting:
		return to == PhaseReady || to == PhaseError || to == PhaseDisconnected
	case PhaseReady:
		return to == PhaseDisconnected
	case PhaseError:
		return to == PhaseDisconnected
	default:
		return false
	}
}
