// Package state holds the relay's shared device state.
package state

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"panelbridge/internal/config"
	"panelbridge/internal/protocol"
)

var ErrUnknownDisplay = errors.New("unknown display")

// Field names as exposed over REST and MQTT
const (
	FieldSystemName  = "system_name"
	FieldCounter     = "counter"
	powerFieldSuffix = ".power"
)

// PowerField returns the field name for a display's power flag
func PowerField(displayID string) string {
	return displayID + powerFieldSuffix
}

// Change describes one field mutation
type Change struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Text renders the value the way MQTT payloads and logs show it
func (c Change) Text() string {
	switch v := c.Value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}

// Command turns the change back into the feedback command panels receive
func (c Change) Command() (protocol.Command, bool) {
	switch {
	case c.Field == FieldSystemName:
		name, ok := c.Value.(string)
		return protocol.SetName(name), ok
	case c.Field == FieldCounter:
		v, ok := c.Value.(int64)
		return protocol.SetCounter(v), ok
	case strings.HasSuffix(c.Field, powerFieldSuffix):
		power, ok := c.Value.(bool)
		return protocol.SetDisplayPower(strings.TrimSuffix(c.Field, powerFieldSuffix), power), ok
	}
	return protocol.Command{}, false
}

type Display struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Power bool   `json:"power"`
}

// Snapshot is a copy of every field, displays in configured order
type Snapshot struct {
	SystemName string    `json:"system_name"`
	Displays   []Display `json:"displays"`
	Counter    int64     `json:"counter"`

	// set by a Persister whose saved state had no counter
	noCounter bool
}

// Commands renders the snapshot as the ordered feedback a new session receives:
// name, every display in order, then the counter.
func (s Snapshot) Commands() []protocol.Command {
	cmds := make([]protocol.Command, 0, len(s.Displays)+2)
	cmds = append(cmds, protocol.SetName(s.SystemName))
	for _, d := range s.Displays {
		cmds = append(cmds, protocol.SetDisplayPower(d.ID, d.Power))
	}
	cmds = append(cmds, protocol.SetCounter(s.Counter))
	return cmds
}

// Fields renders the snapshot as ordered name/value pairs
func (s Snapshot) Fields() []Change {
	fields := make([]Change, 0, len(s.Displays)+2)
	fields = append(fields, Change{Field: FieldSystemName, Value: s.SystemName})
	for _, d := range s.Displays {
		fields = append(fields, Change{Field: PowerField(d.ID), Value: d.Power})
	}
	fields = append(fields, Change{Field: FieldCounter, Value: s.Counter})
	return fields
}

// Display returns the display with the given id
func (s Snapshot) Display(id string) (Display, bool) {
	for _, d := range s.Displays {
		if d.ID == id {
			return d, true
		}
	}
	return Display{}, false
}

// Store owns the shared state. All access goes through its mutex; reads hand
// out copies.
type Store struct {
	mu         sync.RWMutex
	systemName string
	order      []string
	displays   map[string]*Display
	counter    int64
}

// NewStore initializes every field from its default
func NewStore(systemName string, displays []config.DisplayConfig, defaultPower bool, counter int64) *Store {
	s := &Store{
		systemName: systemName,
		displays:   make(map[string]*Display, len(displays)),
		counter:    counter,
	}
	for _, d := range displays {
		s.order = append(s.order, d.ID)
		s.displays[d.ID] = &Display{ID: d.ID, Name: d.Name, Power: defaultPower}
	}
	return s
}

// NewStoreFromConfig builds a store from the relay configuration
func NewStoreFromConfig(cfg *config.Config) *Store {
	return NewStore(cfg.SystemName, cfg.Displays, cfg.DisplayDefaultPower, cfg.CounterDefault)
}

func (s *Store) SetSystemName(name string) Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemName = name
	return Change{Field: FieldSystemName, Value: name}
}

func (s *Store) SetDisplayPower(id string, power bool) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.displays[id]
	if !ok {
		return Change{}, fmt.Errorf("%w: %q", ErrUnknownDisplay, id)
	}
	d.Power = power
	return Change{Field: PowerField(id), Value: power}, nil
}

func (s *Store) SetCounter(v int64) Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter = v
	return Change{Field: FieldCounter, Value: v}
}

// AddCounter adds delta and returns the change carrying the new value
func (s *Store) AddCounter(delta int64) Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter += delta
	return Change{Field: FieldCounter, Value: s.counter}
}

func (s *Store) Counter() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counter
}

// Snapshot returns a copy of all fields
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		SystemName: s.systemName,
		Displays:   make([]Display, 0, len(s.order)),
		Counter:    s.counter,
	}
	for _, id := range s.order {
		snap.Displays = append(snap.Displays, *s.displays[id])
	}
	return snap
}

// Restore overwrites the values from a snapshot. Displays that are not
// configured are ignored; labels stay as configured. A name that could not
// be sent as pipe text and a missing counter keep their current values.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.SystemName != "" && !strings.Contains(snap.SystemName, protocol.Delimiter) {
		s.systemName = snap.SystemName
	}
	for _, d := range snap.Displays {
		if cur, ok := s.displays[d.ID]; ok {
			cur.Power = d.Power
		}
	}
	if !snap.noCounter {
		s.counter = snap.Counter
	}
}
