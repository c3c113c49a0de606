package backup

import (
	"fmt"
	"time"
)

// State is a step of the backup pipeline.
type State int

const (
	StateIdle State = iota
	StateStaging
	StateCompressing
	StateNotifying
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStaging:
		return "staging"
	case StateCompressing:
		return "compressing"
	case StateNotifying:
		return "notifying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsTerminal reports whether no further transitions are possible from s.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

var allowedTransitions = map[State][]State{
	StateIdle:        {StateStaging, StateFailed},
	StateStaging:     {StateCompressing, StateFailed},
	StateCompressing: {StateNotifying, StateFailed},
	StateNotifying:   {StateDone},
}

// CanTransition reports whether the pipeline may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition records one state change of a run.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// machine tracks the current state of one run and the path taken to reach it.
type machine struct {
	clock   Clock
	state   State
	history []Transition
}

func newMachine(clock Clock) *machine {
	return &machine{clock: clock, state: StateIdle}
}

func (m *machine) transition(to State) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", m.state, to)
	}
	m.history = append(m.history, Transition{From: m.state, To: to, At: m.clock.Now()})
	m.state = to
	return nil
}
