package view

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cabachat/caba/internal/bus"
)

// State represents an open-conversation view lifecycle state.
type State string

const (
	Idle    State = "IDLE"
	Loading State = "LOADING"
	Ready   State = "READY"
	Error   State = "ERROR"
)

// validTransitions defines allowed state transitions. Applied live events
// keep the view in Ready; only open, close and load failures move it.
// Error is terminal: a failed view is discarded, retry means a new instance.
var validTransitions = map[State][]State{
	Idle:    {Loading},
	Loading: {Ready, Error, Idle},
	Ready:   {Idle},
	Error:   {},
}

// Machine tracks and enforces view state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
	chatID  string
}

// NewMachine creates a state machine starting in Idle.
func NewMachine(b *bus.Bus, chatID string) *Machine {
	return &Machine{current: Idle, bus: b, chatID: chatID}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindViewChanged,
			Timestamp: time.Now(),
			Payload: StateChange{
				ChatID: m.chatID,
				From:   from,
				To:     to,
			},
		})
	}
	return nil
}

// StateChange is the payload for view state change events.
type StateChange struct {
	ChatID string
	From   State
	To     State
}
