// Package mirror keeps a client-side copy of the relay state. Local
// mutations on the allow-list become outbound commands; relay feedback
// becomes local mutations.
package mirror

import (
	"strconv"
	"sync"

	"panelbridge/internal/config"
)

type MutationKind int

const (
	SetSystemName MutationKind = iota + 1
	SetCounter
	IncrementCounter
	DecrementCounter
	SetPower
	SetPowerFeedback
)

func (k MutationKind) String() string {
	switch k {
	case SetSystemName:
		return "setSystemName"
	case SetCounter:
		return "counter/setCounter"
	case IncrementCounter:
		return "counter/incrementCounter"
	case DecrementCounter:
		return "counter/decrementCounter"
	case SetPower:
		return "displays/setPower"
	case SetPowerFeedback:
		return "displays/setPowerFeedback"
	default:
		return "mutation(" + strconv.Itoa(int(k)) + ")"
	}
}

// Mutation is one local state change request
type Mutation struct {
	Kind      MutationKind
	Name      string
	Value     int64
	DisplayID string
	Power     bool
}

type Display struct {
	ID    string
	Name  string
	Power bool
}

// State is a copy of the mirrored fields
type State struct {
	SystemName string
	Displays   []Display
	Counter    int64
}

func (s State) Display(id string) (Display, bool) {
	for _, d := range s.Displays {
		if d.ID == id {
			return d, true
		}
	}
	return Display{}, false
}

// Subscriber sees every committed mutation with the state after it
type Subscriber func(m Mutation, s State)

type subscription struct {
	id int
	fn Subscriber
}

// Store is the local state. Subscribers run after the mutation is applied,
// in registration order, outside the lock.
type Store struct {
	mu     sync.Mutex
	state  State
	subs   []subscription
	nextID int
}

// NewStore starts with the given displays powered off and the counter at
// zero until the relay's snapshot arrives.
func NewStore(displays []config.DisplayConfig) *Store {
	s := &Store{}
	for _, d := range displays {
		s.state.Displays = append(s.state.Displays, Display{ID: d.ID, Name: d.Name})
	}
	return s
}

// Commit applies m and notifies subscribers. IncrementCounter,
// DecrementCounter and SetPower are requests to the relay and leave local
// state alone; the relay's feedback changes it.
func (s *Store) Commit(m Mutation) {
	s.mu.Lock()
	switch m.Kind {
	case SetSystemName:
		s.state.SystemName = m.Name
	case SetCounter:
		s.state.Counter = m.Value
	case SetPowerFeedback:
		s.setPower(m.DisplayID, m.Power)
	}
	snap := s.copyState()
	subs := append([]subscription(nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(m, snap)
	}
}

// setPower learns displays it has not seen; the relay's snapshot lists them all
func (s *Store) setPower(id string, power bool) {
	for i := range s.state.Displays {
		if s.state.Displays[i].ID == id {
			s.state.Displays[i].Power = power
			return
		}
	}
	s.state.Displays = append(s.state.Displays, Display{ID: id, Name: id, Power: power})
}

// Subscribe registers fn and returns a function that removes it
func (s *Store) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyState()
}

func (s *Store) copyState() State {
	c := s.state
	c.Displays = append([]Display(nil), s.state.Displays...)
	return c
}
