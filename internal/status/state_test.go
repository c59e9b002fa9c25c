package status

import (
	"testing"
	"time"

	"github.com/matheus3301/bolechat/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, AuthRequired},
		{Booting, Connecting},
		{Booting, Offline},
		{AuthRequired, Connecting},
		{Connecting, Syncing},
		{Syncing, Online},
		{Online, Reconnecting},
		{Online, Offline},
		{Reconnecting, Connecting},
		{Offline, Connecting},
		{Error, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Online},
		{AuthRequired, Syncing},
		{Online, Syncing},
		{Error, Online},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want %s unchanged", m.Current(), tt.from)
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(10, "session.")
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(AuthRequired); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != EventStatusChanged {
			t.Errorf("event kind = %q, want %s", evt.Kind, EventStatusChanged)
		}
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if change.From != Booting || change.To != AuthRequired {
			t.Errorf("change = %v -> %v, want BOOTING -> AUTH_REQUIRED", change.From, change.To)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}

func TestAdvanceSkipsCurrent(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connecting)

	if err := m.Advance(Connecting, Syncing, Online); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if m.Current() != Online {
		t.Errorf("state = %s, want ONLINE", m.Current())
	}
}

func TestAdvanceStopsAtInvalidStep(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Advance(Connecting, Online); err == nil {
		t.Fatal("Advance(CONNECTING, ONLINE) should fail")
	}
	if m.Current() != Connecting {
		t.Errorf("state = %s, want CONNECTING", m.Current())
	}
}

// First login: BOOTING → AUTH_REQUIRED → CONNECTING → SYNCING → ONLINE.
func TestFirstLoginLifecycle(t *testing.T) {
	m := NewMachine(nil)
	for _, s := range []State{AuthRequired, Connecting, Syncing, Online} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// A dropped push channel goes through RECONNECTING and back without
// forcing a new login.
func TestPushReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Online)
	for _, s := range []State{Reconnecting, Connecting, Syncing, Online} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

func TestExpiredTokenFromOnline(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Online)
	if err := m.Transition(AuthRequired); err != nil {
		t.Fatalf("ONLINE -> AUTH_REQUIRED: %v", err)
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:      {},
		AuthRequired: {AuthRequired},
		Connecting:   {AuthRequired, Connecting},
		Syncing:      {Connecting, Syncing},
		Online:       {Connecting, Syncing, Online},
		Reconnecting: {Connecting, Syncing, Online, Reconnecting},
		Offline:      {Offline},
		Error:        {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
