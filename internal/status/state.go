package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chatchick/chatd/internal/bus"
)

// State represents the connection lifecycle state. It is owned by the
// connection manager; every other component reads it, none mutate it.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Failed       State = "FAILED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Reconnecting, Failed, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connecting, Failed, Disconnected},
	Failed:       {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	reason  string
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

// Reason returns the failure reason recorded with the most recent
// transition, or empty.
func (m *Machine) Reason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not legal from the current state.
func (m *Machine) Transition(to State) error {
	return m.TransitionReason(to, "")
}

// TransitionReason is Transition with an attached reason, used for Failed.
func (m *Machine) TransitionReason(to State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.reason = reason
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "session.state_changed",
			Timestamp: time.Now(),
			Payload: Change{
				From:   from,
				To:     to,
				Reason: reason,
			},
		})
	}
	return nil
}

// Change is the payload for state change events.
type Change struct {
	From   State
	To     State
	Reason string
}
