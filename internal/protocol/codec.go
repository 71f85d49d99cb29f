package protocol

import (
	"bytes"
	"fmt"
)

// WebSocket subprotocols offered by the relay
const (
	SubprotocolPipe = "panel.pipe.v1"
	SubprotocolJSON = "panel.json.v1"
)

// Codec turns commands into frames and back
type Codec interface {
	Name() string
	Subprotocol() string
	Decode(frame []byte) (Command, error)
	Encode(c Command) ([]byte, error)
	EncodeError(code, detail string) ([]byte, error)
}

// Subprotocols lists every subprotocol in preference order
func Subprotocols() []string {
	return []string{SubprotocolJSON, SubprotocolPipe}
}

// Lookup returns the codec for a negotiated subprotocol
func Lookup(subprotocol string) (Codec, bool) {
	switch subprotocol {
	case SubprotocolPipe:
		return PipeCodec{}, true
	case SubprotocolJSON:
		return JSONCodec{}, true
	}
	return nil, false
}

// ByName returns the codec configured by name ("pipe" or "json")
func ByName(name string) (Codec, error) {
	switch name {
	case "pipe":
		return PipeCodec{}, nil
	case "json":
		return JSONCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// Sniff picks a codec from the frame itself: JSON objects use the envelope,
// everything else is treated as pipe text. Used where no subprotocol exists.
func Sniff(frame []byte) Codec {
	if trimmed := bytes.TrimSpace(frame); len(trimmed) > 0 && trimmed[0] == '{' {
		return JSONCodec{}
	}
	return PipeCodec{}
}
