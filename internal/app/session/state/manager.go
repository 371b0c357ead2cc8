package state

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrInvalidTransition is returned for a phase change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Manager manages session state with thread-safe access.
type Manager struct {
	mu       sync.RWMutex
	state    State
	onChange func(State)
}

// New creates a new state manager in PhaseDisconnected.
// onChange, if non-nil, is called after every successful transition while
// the manager lock is held, so callers observe transitions in order.
func New(onChange func(State)) *Manager {
	return &Manager{
		state:    Disconnected(),
		onChange: onChange,
	}
}

// Get returns the current state.
func (m *Manager) Get() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetPhase returns the current phase.
func (m *Manager) GetPhase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Phase
}

// Transition moves to next if the lifecycle allows it.
func (m *Manager) Transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.state.Phase, next.Phase) {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", m.state.Phase, next.Phase)
	}
	m.state = next
	if m.onChange != nil {
		m.onChange(next)
	}
	return nil
}

// TransitionFrom moves to next only when the current phase is from.
// It returns false without error when the phase has already moved on.
func (m *Manager) TransitionFrom(from Phase, next State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Phase != from {
		return false, nil
	}
	if !CanTransition(from, next.Phase) {
		return false, errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, next.Phase)
	}
	m.state = next
	if m.onChange != nil {
		m.onChange(next)
	}
	return true, nil
}
