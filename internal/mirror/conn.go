package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"panelbridge/internal/retry"
)

var ErrNotConnected = errors.New("not connected to relay")

const connWriteWait = 10 * time.Second

type ConnOptions struct {
	URL          string
	Header       http.Header
	Subprotocols []string
	// Backoff defaults to retry.Reconnect()
	Backoff *retry.Backoff
	// OnFrame receives every inbound text frame on the read goroutine
	OnFrame func(frame []byte)
	// OnState is told about every connect and disconnect
	OnState func(connected bool)
	Logger  *slog.Logger
}

// Conn is a WebSocket link to the relay that redials with backoff until its
// context is cancelled. Nothing sent while it is down is queued.
type Conn struct {
	opts        ConnOptions
	dialer      *websocket.Dialer
	mu          sync.Mutex
	ws          *websocket.Conn
	connected   atomic.Bool
	subprotocol atomic.Value
	logger      *slog.Logger
}

func NewConn(opts ConnOptions) *Conn {
	if opts.Backoff == nil {
		opts.Backoff = retry.Reconnect()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Conn{
		opts: opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Subprotocols:     opts.Subprotocols,
			Proxy:            http.ProxyFromEnvironment,
		},
		logger: opts.Logger,
	}
	c.subprotocol.Store("")
	return c
}

func (c *Conn) Connected() bool { return c.connected.Load() }

// Subprotocol is the one negotiated on the current or last connection
func (c *Conn) Subprotocol() string { return c.subprotocol.Load().(string) }

// Send writes one frame or fails with ErrNotConnected
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil || !c.connected.Load() {
		return ErrNotConnected
	}
	c.ws.SetWriteDeadline(time.Now().Add(connWriteWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Run dials, serves the connection until it drops and dials again. It
// returns when ctx is done or the backoff gives up.
func (c *Conn) Run(ctx context.Context) error {
	for {
		ws, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.serve(ctx, ws)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	backoff := *c.opts.Backoff
	backoff.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.logger.Warn("relay_dial_failed",
			"url", c.opts.URL,
			"attempt", attempt,
			"retry_in", wait.String(),
			"error", err,
		)
	}

	var ws *websocket.Conn
	err := backoff.Do(ctx, func(int) error {
		conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return retry.Permanent(fmt.Errorf("relay refused credentials: %s", resp.Status))
			}
			return err
		}
		ws = conn
		return nil
	})
	return ws, err
}

func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.subprotocol.Store(ws.Subprotocol())
	c.connected.Store(true)
	c.logger.Info("relay_connected", "url", c.opts.URL, "subprotocol", ws.Subprotocol())
	if c.opts.OnState != nil {
		c.opts.OnState(true)
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.mu.Unlock()
			ws.Close()
		case <-stop:
		}
	}()

	for {
		msgType, frame, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("relay_disconnected", "error", err)
			}
			break
		}
		if msgType == websocket.TextMessage && c.opts.OnFrame != nil {
			c.opts.OnFrame(frame)
		}
	}

	close(stop)
	c.connected.Store(false)
	c.mu.Lock()
	c.ws = nil
	c.mu.Unlock()
	ws.Close()
	if c.opts.OnState != nil {
		c.opts.OnState(false)
	}
}
