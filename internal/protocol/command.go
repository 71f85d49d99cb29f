// Package protocol defines the commands exchanged between panels and the relay
// and the codecs that put them on the wire.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnknownCommand     = errors.New("unknown command")
	ErrInvalidCommand     = errors.New("invalid command")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrDelimiterInValue   = errors.New("value contains the frame delimiter")
)

// Error codes carried by error frames
const (
	CodeUnknownCommand = "unknown_command"
	CodeInvalidCommand = "invalid_command"
	CodeUnsupported    = "unsupported_version"
	CodeRateLimited    = "rate_limited"
)

// ErrorCode maps a decode error to the code sent back to a panel
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return CodeUnknownCommand
	case errors.Is(err, ErrUnsupportedVersion):
		return CodeUnsupported
	default:
		return CodeInvalidCommand
	}
}

type Kind int

const (
	KindSetName Kind = iota + 1
	KindSetCounter
	KindIncrementCounter
	KindDecrementCounter
	KindSetDisplayPower
)

func (k Kind) String() string {
	switch k {
	case KindSetName:
		return "name.set"
	case KindSetCounter:
		return "counter.set"
	case KindIncrementCounter:
		return "counter.increment"
	case KindDecrementCounter:
		return "counter.decrement"
	case KindSetDisplayPower:
		return "display.power"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Command is the decoded form of every known message. Only the fields that
// belong to Kind are meaningful.
type Command struct {
	Kind      Kind
	Name      string // KindSetName
	Value     int64  // KindSetCounter
	DisplayID string // KindSetDisplayPower
	Power     bool   // KindSetDisplayPower
}

func SetName(name string) Command { return Command{Kind: KindSetName, Name: name} }

func SetCounter(v int64) Command { return Command{Kind: KindSetCounter, Value: v} }

func IncrementCounter() Command { return Command{Kind: KindIncrementCounter} }

func DecrementCounter() Command { return Command{Kind: KindDecrementCounter} }

func SetDisplayPower(id string, power bool) Command {
	return Command{Kind: KindSetDisplayPower, DisplayID: id, Power: power}
}

// Topic returns the first segment the command uses on the pipe wire format
func (c Command) Topic() string {
	switch c.Kind {
	case KindSetName:
		return TopicName
	case KindSetCounter, KindIncrementCounter, KindDecrementCounter:
		return TopicCounter
	case KindSetDisplayPower:
		return TopicDisplays
	default:
		return ""
	}
}

// Validate checks the fields the kind requires
func (c Command) Validate() error {
	switch c.Kind {
	case KindSetName:
		if c.Name == "" {
			return fmt.Errorf("%w: empty name", ErrInvalidCommand)
		}
		// every session must be able to receive the value as pipe text
		if strings.Contains(c.Name, Delimiter) {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, ErrDelimiterInValue)
		}
	case KindSetDisplayPower:
		if c.DisplayID == "" {
			return fmt.Errorf("%w: empty display id", ErrInvalidCommand)
		}
		if strings.Contains(c.DisplayID, Delimiter) {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, ErrDelimiterInValue)
		}
	case KindSetCounter, KindIncrementCounter, KindDecrementCounter:
	default:
		return fmt.Errorf("%w: kind %d", ErrUnknownCommand, c.Kind)
	}
	return nil
}

func (c Command) String() string {
	switch c.Kind {
	case KindSetName:
		return c.Kind.String() + "(" + c.Name + ")"
	case KindSetCounter:
		return c.Kind.String() + "(" + strconv.FormatInt(c.Value, 10) + ")"
	case KindSetDisplayPower:
		return c.Kind.String() + "(" + c.DisplayID + "," + strconv.FormatBool(c.Power) + ")"
	default:
		return c.Kind.String()
	}
}
