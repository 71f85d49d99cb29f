// Package relay owns the shared state on the server side. A single hub
// goroutine applies every command and fans feedback out to panel sessions.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"panelbridge/internal/protocol"
	"panelbridge/internal/state"
)

// Echo modes
const (
	EchoOrigin = "origin"
	EchoAll    = "all"
)

// Unknown command policies
const (
	UnknownDrop   = "drop"
	UnknownReject = "reject"
)

// Command sources
const (
	SourceSession = "ws"
	SourceREST    = "rest"
	SourceMQTT    = "mqtt"
	SourceTCP     = "tcp"
)

var ErrHubStopped = errors.New("hub stopped")

// Origin says where a command came from. SessionID is empty for injected
// commands.
type Origin struct {
	SessionID string
	Source    string
}

// ChangeListener observes applied changes. OnChange runs on the hub
// goroutine and must not block.
type ChangeListener interface {
	OnChange(change state.Change, origin Origin)
}

type ChangeListenerFunc func(change state.Change, origin Origin)

func (f ChangeListenerFunc) OnChange(change state.Change, origin Origin) { f(change, origin) }

// CommandEvent describes one command the hub handled, accepted or not
type CommandEvent struct {
	Origin   Origin
	Raw      string
	Topic    string
	Accepted bool
	Err      error
	At       time.Time
}

// CommandObserver sees every command event. Same rules as ChangeListener.
type CommandObserver interface {
	OnCommand(ev CommandEvent)
}

type inboundFrame struct {
	session *Session
	raw     string
	cmd     protocol.Command
	err     error
}

type injectRequest struct {
	cmd    protocol.Command
	origin Origin
	reply  chan injectReply
}

type injectReply struct {
	result Result
	err    error
}

type HubOptions struct {
	EchoMode      string
	UnknownPolicy string
	Session       SessionOptions
	Logger        *slog.Logger
}

type Hub struct {
	store     *state.Store
	registry  *Registry
	opts      HubOptions
	logger    *slog.Logger
	stats     Stats
	listeners []ChangeListener
	observers []CommandObserver

	register   chan *Session
	unregister chan *Session
	inbound    chan inboundFrame
	inject     chan injectRequest
	done       chan struct{}
}

func NewHub(store *state.Store, opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EchoMode == "" {
		opts.EchoMode = EchoOrigin
	}
	if opts.UnknownPolicy == "" {
		opts.UnknownPolicy = UnknownDrop
	}
	if opts.Session.RateLimit <= 0 {
		opts.Session.RateLimit = 10
	}
	if opts.Session.RateBurst <= 0 {
		opts.Session.RateBurst = 20
	}
	if opts.Session.SendBuffer <= 0 {
		opts.Session.SendBuffer = 64
	}
	return &Hub{
		store:      store,
		registry:   NewRegistry(logger),
		opts:       opts,
		logger:     logger,
		register:   make(chan *Session),
		unregister: make(chan *Session),
		inbound:    make(chan inboundFrame, 256),
		inject:     make(chan injectRequest),
		done:       make(chan struct{}),
	}
}

// AddListener must be called before Run
func (h *Hub) AddListener(l ChangeListener) {
	h.listeners = append(h.listeners, l)
}

// AddObserver must be called before Run
func (h *Hub) AddObserver(o CommandObserver) {
	h.observers = append(h.observers, o)
}

func (h *Hub) Store() *state.Store { return h.store }

func (h *Hub) Snapshot() state.Snapshot { return h.store.Snapshot() }

func (h *Hub) Stats() StatsSnapshot { return h.stats.Snapshot() }

func (h *Hub) SessionCount() int { return h.registry.Count() }

// Done is closed once Run has returned
func (h *Hub) Done() <-chan struct{} { return h.done }

// NewSession builds a session for an upgraded connection. The send buffer
// always fits the initial snapshot.
func (h *Hub) NewSession(conn *websocket.Conn, codec protocol.Codec, panel string) *Session {
	opts := h.opts.Session
	opts.Panel = panel
	if need := len(h.store.Snapshot().Displays) + 2; opts.SendBuffer < need*2 {
		opts.SendBuffer = need * 2
	}
	return newSession(h, conn, codec, opts)
}

// Register hands a session to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(s *Session) bool {
	select {
	case h.register <- s:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterSession(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

func (h *Hub) submit(in inboundFrame) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

// Inject applies a command that did not come from a panel session and
// broadcasts its feedback to every session.
func (h *Hub) Inject(ctx context.Context, cmd protocol.Command, origin Origin) (Result, error) {
	req := injectRequest{cmd: cmd, origin: origin, reply: make(chan injectReply, 1)}
	select {
	case h.inject <- req:
	case <-h.done:
		return Result{}, ErrHubStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep.result, rep.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run processes hub events until ctx is cancelled, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	h.logger.Info("hub_started",
		"echo_mode", h.opts.EchoMode,
		"unknown_policy", h.opts.UnknownPolicy,
	)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("hub_stopped")
			return
		case s := <-h.register:
			h.handleRegister(s)
		case s := <-h.unregister:
			h.handleUnregister(s)
		case in := <-h.inbound:
			h.handleInbound(in)
		case req := <-h.inject:
			h.handleInject(req)
		}
	}
}

// handleRegister queues the snapshot before the session joins the registry
// so nothing else can reach it first.
func (h *Hub) handleRegister(s *Session) {
	for _, cmd := range h.store.Snapshot().Commands() {
		s.enqueueCommand(cmd)
	}
	if !h.registry.Add(s) {
		return
	}
	h.stats.sessions.Add(1)
	h.stats.connects.Add(1)
	h.logger.Info("session_registered",
		"session_id", s.ID,
		"panel", s.Panel,
		"codec", s.codec.Name(),
		"remote_addr", s.RemoteAddr,
	)
}

func (h *Hub) handleUnregister(s *Session) {
	if !h.registry.Remove(s) {
		return
	}
	close(s.send)
	h.stats.sessions.Add(-1)
	h.logger.Info("session_unregistered", "session_id", s.ID)
}

func (h *Hub) handleInbound(in inboundFrame) {
	s := in.session
	if _, ok := h.registry.Get(s.ID); !ok {
		// frame raced with unregister
		return
	}
	origin := Origin{SessionID: s.ID, Source: SourceSession}

	if in.err != nil {
		h.reject(s, in.raw, in.err, origin)
		return
	}

	res, err := Dispatch(h.store, in.cmd)
	if err != nil {
		h.reject(s, in.raw, err, origin)
		return
	}

	for _, fb := range res.Feedback {
		s.enqueueCommand(fb)
		if h.opts.EchoMode == EchoAll {
			h.broadcast(fb, s)
		}
	}
	h.notify(res, origin)
	h.observe(CommandEvent{Origin: origin, Raw: in.raw, Topic: in.cmd.Topic(), Accepted: true, At: time.Now()})
}

func (h *Hub) handleInject(req injectRequest) {
	h.stats.injected.Add(1)
	res, err := Dispatch(h.store, req.cmd)
	ev := CommandEvent{Origin: req.origin, Raw: req.cmd.String(), Topic: req.cmd.Topic(), At: time.Now()}
	if err != nil {
		h.stats.unknown.Add(1)
		h.logger.Debug("injected_command_rejected", "origin", req.origin.String(), "command", req.cmd.String(), "error", err)
		ev.Err = err
		h.observe(ev)
		req.reply <- injectReply{err: err}
		return
	}

	for _, fb := range res.Feedback {
		h.broadcast(fb, nil)
	}
	h.notify(res, req.origin)
	ev.Accepted = true
	h.observe(ev)
	req.reply <- injectReply{result: res}
}

// reject leaves state alone; the panel only hears about it under the
// reject policy or when it was rate limited.
func (h *Hub) reject(s *Session, raw string, err error, origin Origin) {
	ev := CommandEvent{Origin: origin, Raw: raw, Topic: protocol.ParseMessage(raw).Topic, Err: err, At: time.Now()}
	h.observe(ev)

	if errors.Is(err, errRateLimited) {
		s.enqueueError(protocol.CodeRateLimited, raw)
		return
	}

	h.stats.unknown.Add(1)
	h.logger.Debug("frame_rejected", "session_id", s.ID, "frame", raw, "error", err)
	if h.opts.UnknownPolicy == UnknownReject {
		s.enqueueError(protocol.ErrorCode(err), raw)
	}
}

// broadcast sends cmd to every session except skip, encoding once per codec
func (h *Hub) broadcast(cmd protocol.Command, skip *Session) {
	encoded := make(map[string][]byte, 2)
	for _, s := range h.registry.Sessions() {
		if s == skip {
			continue
		}
		name := s.codec.Name()
		frame, ok := encoded[name]
		if !ok {
			var err error
			frame, err = s.codec.Encode(cmd)
			if err != nil {
				h.logger.Error("encode_failed", "codec", name, "command", cmd.String(), "error", err)
				continue
			}
			encoded[name] = frame
		}
		s.enqueue(frame)
	}
}

func (h *Hub) notify(res Result, origin Origin) {
	for _, change := range res.Changes {
		h.logger.Info("state_changed",
			"field", change.Field,
			"value", change.Text(),
			"source", origin.Source,
			"session_id", origin.SessionID,
		)
		for _, l := range h.listeners {
			l.OnChange(change, origin)
		}
	}
}

func (h *Hub) observe(ev CommandEvent) {
	for _, o := range h.observers {
		o.OnCommand(ev)
	}
}

func (h *Hub) closeAll() {
	for _, s := range h.registry.Drain() {
		close(s.send)
		h.stats.sessions.Add(-1)
	}
}

// String is used in logs
func (o Origin) String() string {
	if o.SessionID == "" {
		return o.Source
	}
	return fmt.Sprintf("%s:%s", o.Source, o.SessionID)
}
