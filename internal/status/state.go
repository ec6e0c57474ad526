package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wppdash/internal/bus"
)

// State represents the protocol connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	QRPending    State = "QR_PENDING"
	Connected    State = "CONNECTED"
	LoggedOut    State = "LOGGED_OUT"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {QRPending, Connected, Disconnected, LoggedOut},
	QRPending:    {Connecting, Connected, Disconnected, LoggedOut},
	Connected:    {Disconnected, LoggedOut},
	LoggedOut:    {Connecting},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsConnected reports whether the session is fully connected.
func (m *Machine) IsConnected() bool {
	return m.Current() == Connected
}

// IsConnecting reports whether a connection attempt is in flight,
// including while waiting for the pairing code to be scanned.
func (m *Machine) IsConnecting() bool {
	s := m.Current()
	return s == Connecting || s == QRPending
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
// Transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current = to
	m.mu.Unlock()

	m.bus.Emit(bus.SessionStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// Force moves to the given state regardless of the transition table. Used
// when the protocol client is torn down locally and the previous state no
// longer means anything.
func (m *Machine) Force(to State) {
	m.mu.Lock()
	from := m.current
	m.current = to
	m.mu.Unlock()
	if from != to {
		m.bus.Emit(bus.SessionStatusChanged, StatusChange{From: from, To: to})
	}
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
