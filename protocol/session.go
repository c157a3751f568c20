package protocol

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State is the position of a session in its lifecycle. A coordinator moves
// through Idle, LocalCountResolved, PeersNotified, EngineLaunched,
// ResultCollected and Completed. A peer stops at Acknowledged after
// EngineLaunched. Any non-terminal state may move to Aborted.
type State int

// Session states.
const (
	Idle State = iota
	LocalCountResolved
	PeersNotified
	EngineLaunched
	ResultCollected
	Completed
	Acknowledged
	Aborted
)

var stateNames = map[State]string{
	Idle:               "idle",
	LocalCountResolved: "local_count_resolved",
	PeersNotified:      "peers_notified",
	EngineLaunched:     "engine_launched",
	ResultCollected:    "result_collected",
	Completed:          "completed",
	Acknowledged:       "acknowledged",
	Aborted:            "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Completed || s == Acknowledged || s == Aborted
}

var (
	coordinatorTransitions = map[State]State{
		Idle:               LocalCountResolved,
		LocalCountResolved: PeersNotified,
		PeersNotified:      EngineLaunched,
		EngineLaunched:     ResultCollected,
		ResultCollected:    Completed,
	}
	peerTransitions = map[State]State{
		Idle:               LocalCountResolved,
		LocalCountResolved: EngineLaunched,
		EngineLaunched:     Acknowledged,
	}
)

// Transition records one state change.
type Transition struct {
	State State
	At    time.Time
}

// Session is one party's view of an aggregation session.
// It is safe for concurrent use.
type Session struct {
	ID        SessionID
	Criterion Criterion
	Role      PartyRole
	// CoordinatorHost is the address handed to the engine. On the coordinator
	// it is the node's own address.
	CoordinatorHost string

	clock clockwork.Clock

	mu        sync.Mutex
	state     State
	count     Count
	aggregate Aggregate
	err       error
	history   []Transition
}

// NewSession starts a session in the Idle state.
func NewSession(clock clockwork.Clock, id SessionID, criterion Criterion, role PartyRole, coordinatorHost string) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Session{
		ID:              id,
		Criterion:       criterion,
		Role:            role,
		CoordinatorHost: coordinatorHost,
		clock:           clock,
		state:           Idle,
		history:         []Transition{{State: Idle, At: clock.Now()}},
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Advance moves the session to its next state. to must be the single legal
// successor of the current state for the session's role.
func (s *Session) Advance(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	transitions := peerTransitions
	if s.Role == CoordinatorRole {
		transitions = coordinatorTransitions
	}

	next, ok := transitions[s.state]
	if !ok || next != to {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.setState(to)
	return nil
}

// Abort moves a non-terminal session to Aborted and records the cause.
// Aborting a terminal session is a no-op.
func (s *Session) Abort(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}
	s.err = cause
	s.setState(Aborted)
}

func (s *Session) setState(to State) {
	s.state = to
	s.history = append(s.history, Transition{State: to, At: s.clock.Now()})
}

// SetCount records the local count and advances to LocalCountResolved.
func (s *Session) SetCount(c Count) error {
	if err := s.Advance(LocalCountResolved); err != nil {
		return err
	}
	s.mu.Lock()
	s.count = c
	s.mu.Unlock()
	return nil
}

// Count returns the local count. It is zero before LocalCountResolved.
func (s *Session) Count() Count {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// SetAggregate records the engine output and advances to ResultCollected.
func (s *Session) SetAggregate(a Aggregate) error {
	if err := s.Advance(ResultCollected); err != nil {
		return err
	}
	s.mu.Lock()
	s.aggregate = a
	s.mu.Unlock()
	return nil
}

// Aggregate returns the collected aggregate.
func (s *Session) Aggregate() Aggregate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregate
}

// Err returns the cause of an abort, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// History returns a copy of the recorded transitions.
func (s *Session) History() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transition(nil), s.history...)
}

// Duration returns the time between the session start and its last transition.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history[len(s.history)-1].At.Sub(s.history[0].At)
}
