package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the only envelope version JSONCodec accepts
const Version = 1

const typeError = "error"

// Envelope is the versioned JSON frame. Optional fields are pointers so that a
// missing field can be told apart from a zero value.
type Envelope struct {
	V      int     `json:"v"`
	Type   string  `json:"type"`
	Name   *string `json:"name,omitempty"`
	Value  *int64  `json:"value,omitempty"`
	ID     *string `json:"id,omitempty"`
	Power  *bool   `json:"power,omitempty"`
	Code   string  `json:"code,omitempty"`
	Detail string  `json:"detail,omitempty"`
}

// JSONCodec speaks the versioned, schema-checked envelope format
type JSONCodec struct{}

func (JSONCodec) Name() string        { return "json" }
func (JSONCodec) Subprotocol() string { return SubprotocolJSON }

func (JSONCodec) Decode(frame []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return env.Command()
}

// Command validates the envelope and converts it to a Command
func (e Envelope) Command() (Command, error) {
	if e.V != Version {
		return Command{}, fmt.Errorf("%w: v=%d", ErrUnsupportedVersion, e.V)
	}
	var cmd Command
	switch e.Type {
	case KindSetName.String():
		if e.Name == nil {
			return Command{}, fmt.Errorf("%w: name.set requires name", ErrInvalidCommand)
		}
		cmd = SetName(*e.Name)
	case KindSetCounter.String():
		if e.Value == nil {
			return Command{}, fmt.Errorf("%w: counter.set requires value", ErrInvalidCommand)
		}
		cmd = SetCounter(*e.Value)
	case KindIncrementCounter.String():
		cmd = IncrementCounter()
	case KindDecrementCounter.String():
		cmd = DecrementCounter()
	case KindSetDisplayPower.String():
		if e.ID == nil || e.Power == nil {
			return Command{}, fmt.Errorf("%w: display.power requires id and power", ErrInvalidCommand)
		}
		cmd = SetDisplayPower(*e.ID, *e.Power)
	default:
		return Command{}, fmt.Errorf("%w: type %q", ErrUnknownCommand, e.Type)
	}
	return cmd, cmd.Validate()
}

// NewEnvelope builds the envelope for a command
func NewEnvelope(c Command) Envelope {
	env := Envelope{V: Version, Type: c.Kind.String()}
	switch c.Kind {
	case KindSetName:
		env.Name = &c.Name
	case KindSetCounter:
		env.Value = &c.Value
	case KindSetDisplayPower:
		env.ID = &c.DisplayID
		env.Power = &c.Power
	}
	return env
}

func (JSONCodec) Encode(c Command) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(NewEnvelope(c))
}

func (JSONCodec) EncodeError(code, detail string) ([]byte, error) {
	return json.Marshal(Envelope{V: Version, Type: typeError, Code: code, Detail: detail})
}
