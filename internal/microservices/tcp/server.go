// Package tcp is the relay's raw control port: newline-terminated pipe
// frames over plain TCP, for control processors that do not speak WebSocket.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"panelbridge/internal/microservices/relay"
	"panelbridge/internal/protocol"
	"panelbridge/internal/state"
)

// Injector is the part of the hub a control port drives
type Injector interface {
	Inject(ctx context.Context, cmd protocol.Command, origin relay.Origin) (relay.Result, error)
	Snapshot() state.Snapshot
}

type Options struct {
	// Auth is nil when no token is required; otherwise the first line must be auth|<token>
	Auth          relay.PanelAuthenticator
	RejectUnknown bool
	RateLimit     float64
	RateBurst     int
	SendBuffer    int
	Logger        *slog.Logger
}

type TCPServer struct {
	addr     string
	Manager  *ConnectionManager
	opts     Options
	listener net.Listener
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewServer does not bind yet. Register s.Manager with the hub before the hub runs.
func NewServer(addr string, hub Injector, opts Options) *TCPServer {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &TCPServer{
		addr:    addr,
		Manager: NewConnectionManager(hub, opts.Logger),
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Listen binds the listener
func (s *TCPServer) Listen() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server, error: %w", err)
	}
	s.listener = listener
	return nil
}

// Addr is the bound address; useful with port 0
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds and serves until ctx is done
func (s *TCPServer) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is done, then closes every client and
// waits for their goroutines.
func (s *TCPServer) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("tcp server is not listening")
	}
	s.logger.Info("tcp_server_started", "addr", s.listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Warn("tcp_accept_failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.wg.Add(1)
		go func(conn net.Conn) {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}(conn)
	}

	s.Manager.CloseAllConnections()
	s.wg.Wait()
	s.logger.Info("tcp_server_stopped")
	return nil
}

// handle connections/lifecycle of single client connection
func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	client := NewClientConnection(conn, s.Manager, s.opts)
	defer client.Close()

	if s.opts.Auth != nil {
		if err := client.authenticate(s.opts.Auth); err != nil {
			s.logger.Warn("tcp_auth_failed", "client_id", client.ID, "remote_addr", conn.RemoteAddr().String(), "error", err)
			client.writeNow(unauthorizedFrame)
			return
		}
	}

	s.Manager.AddConnection(client)
	go client.writeLoop()
	client.Listen(ctx)
	s.Manager.RemoveConnection(client)
}
