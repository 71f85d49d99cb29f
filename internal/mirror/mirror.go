package mirror

import (
	"log/slog"
	"sync/atomic"

	"panelbridge/internal/protocol"
)

// Sender is the outbound side of a relay connection
type Sender interface {
	Send(frame []byte) error
	Connected() bool
}

// Mirror connects a Store to a relay connection
type Mirror struct {
	store       *Store
	sender      Sender
	codec       protocol.Codec
	unsubscribe func()
	sent        atomic.Int64
	dropped     atomic.Int64
	logger      *slog.Logger
}

func New(store *Store, sender Sender, codec protocol.Codec, logger *slog.Logger) *Mirror {
	if codec == nil {
		codec = protocol.PipeCodec{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mirror{
		store:  store,
		sender: sender,
		codec:  codec,
		logger: logger,
	}
	m.unsubscribe = store.Subscribe(m.onMutation)
	return m
}

func (m *Mirror) Store() *Store { return m.store }

func (m *Mirror) Sent() int64 { return m.sent.Load() }

// Dropped counts commands that could not be written; they are never retried
func (m *Mirror) Dropped() int64 { return m.dropped.Load() }

// Close stops forwarding mutations
func (m *Mirror) Close() {
	m.unsubscribe()
}

// outbound maps allow-listed mutations to relay commands
func outbound(mu Mutation) (protocol.Command, bool) {
	switch mu.Kind {
	case IncrementCounter:
		return protocol.IncrementCounter(), true
	case DecrementCounter:
		return protocol.DecrementCounter(), true
	case SetPower:
		return protocol.SetDisplayPower(mu.DisplayID, mu.Power), true
	}
	return protocol.Command{}, false
}

func (m *Mirror) onMutation(mu Mutation, _ State) {
	cmd, ok := outbound(mu)
	if !ok {
		return
	}
	if !m.sender.Connected() {
		m.dropped.Add(1)
		m.logger.Debug("command_dropped_offline", "mutation", mu.Kind.String())
		return
	}

	frame, err := m.codec.Encode(cmd)
	if err != nil {
		m.dropped.Add(1)
		m.logger.Warn("command_encode_failed", "mutation", mu.Kind.String(), "error", err)
		return
	}
	if err := m.sender.Send(frame); err != nil {
		m.dropped.Add(1)
		m.logger.Debug("command_send_failed", "frame", string(frame), "error", err)
		return
	}
	m.sent.Add(1)
	m.logger.Debug("frame_tx", "frame", string(frame))
}

// HandleFrame turns relay feedback into local mutations. Frames that do not
// decode are ignored.
func (m *Mirror) HandleFrame(frame []byte) {
	m.logger.Debug("frame_rx", "frame", string(frame))

	cmd, err := m.codec.Decode(frame)
	if err != nil {
		m.logger.Debug("frame_ignored", "frame", string(frame), "error", err)
		return
	}

	switch cmd.Kind {
	case protocol.KindSetDisplayPower:
		m.store.Commit(Mutation{Kind: SetPowerFeedback, DisplayID: cmd.DisplayID, Power: cmd.Power})
	case protocol.KindSetName:
		m.store.Commit(Mutation{Kind: SetSystemName, Name: cmd.Name})
	case protocol.KindSetCounter:
		m.store.Commit(Mutation{Kind: SetCounter, Value: cmd.Value})
	default:
		// the relay only sends literal values
		m.logger.Debug("frame_ignored", "frame", string(frame), "kind", cmd.Kind.String())
	}
}
