package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/bolechat/internal/bus"
)

// State is the daemon's connection state as shown to clients.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Online       State = "ONLINE"
	Reconnecting State = "RECONNECTING"
	// Offline means the REST backend is unreachable (circuit open); cached
	// state is still served.
	Offline State = "OFFLINE"
	Error   State = "ERROR"
)

const EventStatusChanged = "session.status_changed"

var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Connecting, Offline, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Syncing, AuthRequired, Reconnecting, Offline, Error},
	Syncing:      {Online, AuthRequired, Reconnecting, Offline, Error},
	Online:       {Reconnecting, Offline, AuthRequired, Error},
	Reconnecting: {Connecting, Offline, AuthRequired, Error},
	Offline:      {Connecting, Reconnecting, AuthRequired, Error},
	Error:        {Booting},
}

// Machine tracks and enforces state transitions, publishing each change on
// the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine in Booting. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to the given state, failing if the move is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// Advance walks through states in order, stopping at the first invalid
// step. Steps equal to the current state are skipped.
func (m *Machine) Advance(path ...State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range path {
		if s == m.current {
			continue
		}
		if err := m.transitionLocked(s); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) transitionLocked(to State) error {
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Publish(bus.Event{
		Kind:    EventStatusChanged,
		Payload: StatusChange{From: from, To: to},
	})
	return nil
}

// StatusChange is the payload of EventStatusChanged.
type StatusChange struct {
	From State
	To   State
}
