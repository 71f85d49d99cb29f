package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"panelbridge/internal/microservices/relay"
	"panelbridge/internal/protocol"
)

const (
	MaxMessageSize = 4096
	// MaxIdleDuration drops clients that send nothing, not even an empty line
	MaxIdleDuration = 30 * time.Minute
	WriteWait       = 10 * time.Second
	injectTimeout   = 5 * time.Second
)

// errLineTooLong means MaxMessageSize bytes arrived without a newline
var errLineTooLong = errors.New("line exceeds max message size")

type ClientConnection struct {
	ID      string
	Panel   string
	conn    net.Conn
	reader  *bufio.Reader
	Writer  *bufio.Writer
	send    chan []byte
	Manager *ConnectionManager
	Limiter *rate.Limiter
	opts    Options
}

func NewClientConnection(conn net.Conn, manager *ConnectionManager, opts Options) *ClientConnection {
	// the connect snapshot is queued in one go and must not overflow send
	size := opts.SendBuffer
	if need := len(manager.hub.Snapshot().Displays) + 2; size < need*2 {
		size = need * 2
	}
	return &ClientConnection{
		ID:      uuid.NewString(),
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, MaxMessageSize),
		Writer:  bufio.NewWriter(conn),
		send:    make(chan []byte, size),
		Manager: manager,
		Limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		opts:    opts,
	}
}

// enqueue never blocks; the manager lock keeps it from racing close(send)
func (c *ClientConnection) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.Manager.logger.Warn("send_buffer_full", "client_id", c.ID)
	}
}

func (c *ClientConnection) replyError(code, raw string) {
	frame, _ := protocol.PipeCodec{}.EncodeError(code, raw)
	c.Manager.mu.RLock()
	defer c.Manager.mu.RUnlock()
	if _, ok := c.Manager.clients[c.ID]; ok {
		c.enqueue(frame)
	}
}

// Listen reads frames until the client leaves, the link fails or ctx is done
func (c *ClientConnection) Listen(ctx context.Context) {
	c.Manager.logger.Info("client_started_listening",
		"client_id", c.ID,
		"remote_addr", c.conn.RemoteAddr().String(),
	)
	c.conn.SetReadDeadline(time.Now().Add(MaxIdleDuration))

	for {
		raw, err := c.readLine()
		if err != nil {
			c.logReadError(err)
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(MaxIdleDuration))

		if raw == "" {
			continue
		}
		c.Manager.logger.Debug("frame_rx", "client_id", c.ID, "frame", raw)

		if !c.Limiter.Allow() {
			c.Manager.logger.Warn("rate_limit_exceeded", "client_id", c.ID)
			c.replyError(protocol.CodeRateLimited, raw)
			continue
		}

		cmd, err := protocol.Sniff([]byte(raw)).Decode([]byte(raw))
		if err != nil {
			c.reject(raw, err)
			continue
		}

		injectCtx, cancel := context.WithTimeout(ctx, injectTimeout)
		_, err = c.Manager.hub.Inject(injectCtx, cmd, relay.Origin{SessionID: c.ID, Source: relay.SourceTCP})
		cancel()
		if err != nil {
			if errors.Is(err, relay.ErrHubStopped) || ctx.Err() != nil {
				return
			}
			c.reject(raw, err)
		}
		// feedback reaches this client through the manager like everyone else
	}
}

// readLine never buffers more than MaxMessageSize bytes, newline included
func (c *ClientConnection) readLine() (string, error) {
	line, err := c.reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return "", errLineTooLong
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

func (c *ClientConnection) reject(raw string, err error) {
	c.Manager.logger.Debug("frame_rejected", "client_id", c.ID, "frame", raw, "error", err)
	if c.opts.RejectUnknown {
		c.replyError(protocol.ErrorCode(err), raw)
	}
}

func (c *ClientConnection) logReadError(err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		c.Manager.logger.Info("client_disconnected", "client_id", c.ID)
	case errors.As(err, &netErr) && netErr.Timeout():
		c.Manager.logger.Warn("client_read_timeout", "client_id", c.ID)
	case errors.Is(err, errLineTooLong):
		c.Manager.logger.Warn("message_too_large", "client_id", c.ID, "max_size", MaxMessageSize)
	case errors.Is(err, net.ErrClosed):
		// closed during shutdown
	default:
		c.Manager.logger.Error("client_read_error", "client_id", c.ID, "error", err)
	}
}

// writeLoop drains send until RemoveConnection closes it
func (c *ClientConnection) writeLoop() {
	for frame := range c.send {
		if err := c.writeNow(frame); err != nil {
			c.Manager.logger.Warn("client_write_failed", "client_id", c.ID, "error", err)
			c.Close()
			for range c.send {
			}
			return
		}
		c.Manager.logger.Debug("frame_tx", "client_id", c.ID, "frame", string(frame))
	}
}

// writeNow writes frame + "\n". frame is shared between clients; never append to it.
func (c *ClientConnection) writeNow(frame []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
	if _, err := c.Writer.Write(frame); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := c.Writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := c.Writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

func (c *ClientConnection) Close() {
	c.conn.Close()
}
