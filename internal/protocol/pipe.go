package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	Delimiter = "|"

	TopicName     = "name"
	TopicCounter  = "counter"
	TopicDisplays = "displays"
	TopicError    = "error"

	argIncrement = "increment"
	argDecrement = "decrement"
	argPowerOn   = "power_on"
	argPowerOff  = "power_off"
)

// Message is a raw pipe frame split into its topic and ordered arguments
type Message struct {
	Topic string
	Args  []string
}

// ParseMessage splits a frame on the delimiter. No schema is applied.
func ParseMessage(frame string) Message {
	parts := strings.Split(frame, Delimiter)
	return Message{Topic: parts[0], Args: parts[1:]}
}

func (m Message) String() string {
	return strings.Join(append([]string{m.Topic}, m.Args...), Delimiter)
}

// PipeCodec speaks the pipe delimited text format, e.g. displays|display_1|power_on
type PipeCodec struct{}

func (PipeCodec) Name() string        { return "pipe" }
func (PipeCodec) Subprotocol() string { return SubprotocolPipe }

func (PipeCodec) Decode(frame []byte) (Command, error) {
	return ParseCommand(ParseMessage(string(frame)))
}

// ParseCommand applies the topic switch to a raw message
func ParseCommand(m Message) (Command, error) {
	switch m.Topic {
	case TopicName:
		// name|<string>; a name with a delimiter inside arrives as extra args
		if len(m.Args) == 0 {
			return Command{}, fmt.Errorf("%w: name without value", ErrInvalidCommand)
		}
		if len(m.Args) > 1 {
			return Command{}, fmt.Errorf("%w: %w", ErrInvalidCommand, ErrDelimiterInValue)
		}
		cmd := SetName(m.Args[0])
		return cmd, cmd.Validate()

	case TopicCounter:
		if len(m.Args) != 1 {
			return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, m.String())
		}
		switch m.Args[0] {
		case argIncrement:
			return IncrementCounter(), nil
		case argDecrement:
			return DecrementCounter(), nil
		}
		v, err := strconv.ParseInt(m.Args[0], 10, 64)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, m.String())
		}
		return SetCounter(v), nil

	case TopicDisplays:
		if len(m.Args) != 2 || m.Args[0] == "" {
			return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, m.String())
		}
		switch m.Args[1] {
		case argPowerOn:
			return SetDisplayPower(m.Args[0], true), nil
		case argPowerOff:
			return SetDisplayPower(m.Args[0], false), nil
		}
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, m.String())
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, m.String())
}

func (PipeCodec) Encode(c Command) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var frame string
	switch c.Kind {
	case KindSetName:
		if strings.Contains(c.Name, Delimiter) {
			return nil, ErrDelimiterInValue
		}
		frame = TopicName + Delimiter + c.Name
	case KindSetCounter:
		frame = TopicCounter + Delimiter + strconv.FormatInt(c.Value, 10)
	case KindIncrementCounter:
		frame = TopicCounter + Delimiter + argIncrement
	case KindDecrementCounter:
		frame = TopicCounter + Delimiter + argDecrement
	case KindSetDisplayPower:
		if strings.Contains(c.DisplayID, Delimiter) {
			return nil, ErrDelimiterInValue
		}
		state := argPowerOff
		if c.Power {
			state = argPowerOn
		}
		frame = TopicDisplays + Delimiter + c.DisplayID + Delimiter + state
	}
	return []byte(frame), nil
}

func (PipeCodec) EncodeError(code, detail string) ([]byte, error) {
	detail = strings.ReplaceAll(detail, Delimiter, "/")
	return []byte(TopicError + Delimiter + code + Delimiter + detail), nil
}
