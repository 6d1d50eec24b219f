package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jmadeira/wabridge/internal/bus"
)

// State represents a session lifecycle state.
type State string

const (
	// Unpaired means no device credentials exist yet.
	Unpaired State = "UNPAIRED"
	// Pairing means a rotating pairing code is being shown.
	Pairing State = "PAIRING"
	// Connected means the link to the network is up.
	Connected State = "CONNECTED"
	// Disconnected means the link dropped but credentials remain valid.
	Disconnected State = "DISCONNECTED"
	// Reconnecting means a single-flight re-pair or reconnect is underway.
	Reconnecting State = "RECONNECTING"
	// LoggedOut means the credentials were invalidated; the next valid
	// transition is back to Unpaired.
	LoggedOut State = "LOGGED_OUT"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Unpaired:     {Pairing, Connected, Disconnected},
	Pairing:      {Connected, Unpaired, LoggedOut},
	Connected:    {Disconnected, Reconnecting, LoggedOut},
	Disconnected: {Connected, Pairing, Reconnecting, LoggedOut},
	Reconnecting: {Connected, Pairing, Disconnected, LoggedOut},
	LoggedOut:    {Unpaired},
}

// Change is the payload for status change events.
type Change struct {
	From State
	To   State
}

// Machine tracks and enforces session state transitions. All reads and
// writes go through the mutex so concurrent triggers observe a
// linearizable state.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Unpaired.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Unpaired,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not in the table.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "session.status_changed",
			Timestamp: time.Now(),
			Payload:   Change{From: from, To: to},
		})
	}
	return nil
}
