package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents a daemon runtime state.
type State string

const (
	Booting  State = "BOOTING"
	Ready    State = "READY"
	Degraded State = "DEGRADED"
	Stopping State = "STOPPING"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:  {Ready, Degraded, Stopping},
	Ready:    {Degraded, Stopping},
	Degraded: {Ready, Stopping},
	Stopping: {},
}

// Change is a recorded state transition.
type Change struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu        sync.RWMutex
	current   State
	since     time.Time
	reason    string
	logger    *zap.Logger
	observers []func(Change)
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		current: Booting,
		since:   time.Now(),
		logger:  logger,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns the current state, when it was entered and why.
func (m *Machine) Snapshot() (State, time.Time, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.since, m.reason
}

// OnChange registers fn to be called after every transition.
func (m *Machine) OnChange(fn func(Change)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State, reason string) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	change := Change{From: m.current, To: to, Reason: reason, At: time.Now()}
	m.current = to
	m.since = change.At
	m.reason = reason
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	m.logger.Info("status changed",
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)),
		zap.String("reason", reason))
	for _, fn := range observers {
		fn(change)
	}
	return nil
}
