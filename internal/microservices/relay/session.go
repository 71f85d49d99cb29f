package relay

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"panelbridge/internal/protocol"
)

// heartbeat and frame limits for panel connections
const (
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10 // must be shorter than PongWait
	MaxMessageSize = 4096
)

var errRateLimited = errors.New("rate limit exceeded")

// Session is one connected panel. The hub is the only goroutine that queues
// frames on send and the only one that closes it.
type Session struct {
	ID         string
	Panel      string // token subject, empty when auth is off
	RemoteAddr string

	conn    *websocket.Conn
	codec   protocol.Codec
	send    chan []byte
	limiter *rate.Limiter
	hub     *Hub
	logger  *slog.Logger
}

// SessionOptions tune a new session
type SessionOptions struct {
	Panel      string
	RateLimit  float64
	RateBurst  int
	SendBuffer int
}

func newSession(hub *Hub, conn *websocket.Conn, codec protocol.Codec, opts SessionOptions) *Session {
	id := uuid.NewString()
	s := &Session{
		ID:      id,
		Panel:   opts.Panel,
		conn:    conn,
		codec:   codec,
		send:    make(chan []byte, opts.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		hub:     hub,
		logger:  hub.logger.With("session_id", id),
	}
	if conn != nil {
		s.RemoteAddr = conn.RemoteAddr().String()
	}
	return s
}

func (s *Session) Codec() protocol.Codec { return s.codec }

// enqueue never blocks; a full buffer drops the frame
func (s *Session) enqueue(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		s.hub.stats.dropped.Add(1)
		s.logger.Warn("send_buffer_full", "dropped_frame", string(frame))
		return false
	}
}

func (s *Session) enqueueCommand(cmd protocol.Command) bool {
	frame, err := s.codec.Encode(cmd)
	if err != nil {
		s.logger.Error("encode_failed", "command", cmd.String(), "error", err)
		return false
	}
	return s.enqueue(frame)
}

func (s *Session) enqueueError(code, detail string) bool {
	frame, err := s.codec.EncodeError(code, detail)
	if err != nil {
		s.logger.Error("encode_error_frame_failed", "code", code, "error", err)
		return false
	}
	return s.enqueue(frame)
}

// ReadPump decodes frames and hands them to the hub until the connection
// fails. It unregisters the session on the way out.
func (s *Session) ReadPump() {
	defer func() {
		s.hub.unregisterSession(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		msgType, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("session_read_error", "error", err)
			} else {
				s.logger.Info("session_disconnected")
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		s.hub.stats.framesIn.Add(1)
		s.logger.Debug("frame_rx", "frame", string(frame))

		in := inboundFrame{session: s, raw: string(frame)}
		if !s.limiter.Allow() {
			s.hub.stats.rateLimited.Add(1)
			s.logger.Warn("rate_limit_exceeded")
			in.err = errRateLimited
		} else {
			in.cmd, in.err = s.codec.Decode(frame)
		}

		if !s.hub.submit(in) {
			return
		}
	}
}

// WritePump drains the send buffer and keeps the heartbeat going
func (s *Session) WritePump() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				// hub closed the session
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Warn("session_write_error", "error", err)
				return
			}
			s.hub.stats.framesOut.Add(1)
			s.logger.Debug("frame_tx", "frame", string(frame))

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
