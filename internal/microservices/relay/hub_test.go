package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"panelbridge/internal/config"
	"panelbridge/internal/protocol"
	"panelbridge/internal/state"
)

var snapshotFrames = []string{
	"name|Panel Bridge Example",
	"displays|display_1|power_on",
	"displays|display_2|power_on",
	"counter|42",
}

type fakeAuth struct{}

func (fakeAuth) AuthenticatePanel(token string) (string, error) {
	if token == "good" {
		return "lobby-panel", nil
	}
	return "", errors.New("bad token")
}

type recordingListener struct {
	mu      sync.Mutex
	changes []state.Change
	origins []Origin
}

func (l *recordingListener) OnChange(c state.Change, o Origin) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, c)
	l.origins = append(l.origins, o)
}

func (l *recordingListener) snapshot() ([]state.Change, []Origin) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]state.Change(nil), l.changes...), append([]Origin(nil), l.origins...)
}

// RelaySuite drives a real hub over WebSocket
type RelaySuite struct {
	suite.Suite
	hub      *Hub
	store    *state.Store
	listener *recordingListener
	server   *httptest.Server
	cancel   context.CancelFunc
	url      string
}

func (s *RelaySuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
}

func (s *RelaySuite) SetupTest() {
	s.start(HubOptions{}, WSHandlerOptions{})
}

func (s *RelaySuite) TearDownTest() {
	s.stop()
}

func (s *RelaySuite) start(opts HubOptions, wsOpts WSHandlerOptions) {
	s.store = state.NewStore("Panel Bridge Example", []config.DisplayConfig{
		{ID: "display_1", Name: "Left"},
		{ID: "display_2", Name: "Right"},
	}, true, 42)
	s.hub = NewHub(s.store, opts)
	s.listener = &recordingListener{}
	s.hub.AddListener(s.listener)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.hub.Run(ctx)

	r := gin.New()
	r.GET("/app", WSHandler(s.hub, wsOpts))
	s.server = httptest.NewServer(r)
	s.url = "ws" + strings.TrimPrefix(s.server.URL, "http") + "/app"
}

func (s *RelaySuite) stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.hub.Done()
	s.server.Close()
	s.cancel = nil
}

func (s *RelaySuite) restart(opts HubOptions, wsOpts WSHandlerOptions) {
	s.stop()
	s.start(opts, wsOpts)
}

func (s *RelaySuite) dial(subprotocols ...string) *websocket.Conn {
	dialer := websocket.Dialer{Subprotocols: subprotocols, HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(s.url, nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { conn.Close() })
	return conn
}

func (s *RelaySuite) read(conn *websocket.Conn) string {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	s.Require().NoError(err)
	return string(frame)
}

func (s *RelaySuite) readN(conn *websocket.Conn, n int) []string {
	frames := make([]string, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, s.read(conn))
	}
	return frames
}

// connect dials and consumes the initial snapshot
func (s *RelaySuite) connect() *websocket.Conn {
	conn := s.dial()
	s.Equal(snapshotFrames, s.readN(conn, len(snapshotFrames)))
	return conn
}

func (s *RelaySuite) send(conn *websocket.Conn, frame string) {
	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (s *RelaySuite) TestSnapshotFirst() {
	conn := s.dial()
	s.Equal(snapshotFrames, s.readN(conn, 4))

	s.Eventually(func() bool { return s.hub.SessionCount() == 1 }, time.Second, 10*time.Millisecond)
}

func (s *RelaySuite) TestIncrementReportsEachValue() {
	conn := s.connect()

	for i := 1; i <= 10; i++ {
		s.send(conn, "counter|increment")
		s.Equal("counter|"+strconv.Itoa(42+i), s.read(conn))
	}
	s.Equal(int64(52), s.store.Counter())

	s.send(conn, "counter|decrement")
	s.Equal("counter|51", s.read(conn))
}

func (s *RelaySuite) TestCounterLiteral() {
	conn := s.connect()
	s.send(conn, "counter|-5")
	s.Equal("counter|-5", s.read(conn))
	s.Equal(int64(-5), s.store.Counter())
}

func (s *RelaySuite) TestDisplayPowerOnThenOff() {
	conn := s.connect()

	s.send(conn, "displays|display_1|power_on")
	s.send(conn, "displays|display_1|power_off")
	s.Equal([]string{
		"displays|display_1|power_on",
		"displays|display_1|power_off",
	}, s.readN(conn, 2))

	d, ok := s.store.Snapshot().Display("display_1")
	s.Require().True(ok)
	s.False(d.Power)
}

func (s *RelaySuite) TestUnknownTopicIsDropped() {
	conn := s.connect()

	s.send(conn, "volume|up")
	s.send(conn, "displays|display_9|power_on")
	s.send(conn, "counter|increment")

	// the first reply is for the increment, so the unknown frames got none
	s.Equal("counter|43", s.read(conn))
	s.Equal(int64(2), s.hub.Stats().Unknown)

	changes, _ := s.listener.snapshot()
	s.Len(changes, 1)
}

func (s *RelaySuite) TestUnknownTopicRejected() {
	s.restart(HubOptions{UnknownPolicy: UnknownReject}, WSHandlerOptions{})
	conn := s.connect()

	s.send(conn, "volume|up")
	s.Equal("error|unknown_command|volume/up", s.read(conn))
	s.send(conn, "name|")
	s.Equal("error|invalid_command|name/", s.read(conn))
	s.Equal("Panel Bridge Example", s.store.Snapshot().SystemName)
}

func (s *RelaySuite) TestEchoAllMirrorsToOtherSessions() {
	s.restart(HubOptions{EchoMode: EchoAll}, WSHandlerOptions{})
	a := s.connect()
	b := s.connect()

	s.send(a, "name|Boardroom")
	s.Equal("name|Boardroom", s.read(a))
	s.Equal("name|Boardroom", s.read(b))
}

// origin is the default echo mode
func (s *RelaySuite) TestEchoOriginOnlyConfirmsSender() {
	a := s.connect()
	b := s.connect()

	s.send(a, "counter|increment")
	s.Equal("counter|43", s.read(a))

	s.send(b, "counter|increment")
	// b's first frame is its own confirmation, not a's
	s.Equal("counter|44", s.read(b))
}

func (s *RelaySuite) TestConflictingUpdatesLastWriteWins() {
	s.restart(HubOptions{EchoMode: EchoAll}, WSHandlerOptions{})
	a := s.connect()
	b := s.connect()

	s.send(a, "counter|1")
	s.Equal("counter|1", s.read(a))
	s.Equal("counter|1", s.read(b))

	s.send(b, "counter|2")
	s.Equal("counter|2", s.read(b))
	s.Equal("counter|2", s.read(a))

	s.Equal(int64(2), s.store.Counter())
}

func (s *RelaySuite) TestJSONSubprotocol() {
	conn := s.dial(protocol.SubprotocolJSON)
	s.Equal(protocol.SubprotocolJSON, conn.Subprotocol())

	frames := s.readN(conn, 4)
	s.JSONEq(`{"v":1,"type":"name.set","name":"Panel Bridge Example"}`, frames[0])
	s.JSONEq(`{"v":1,"type":"counter.set","value":42}`, frames[3])

	s.send(conn, `{"v":1,"type":"display.power","id":"display_2","power":false}`)
	s.JSONEq(`{"v":1,"type":"display.power","id":"display_2","power":false}`, s.read(conn))
}

func (s *RelaySuite) TestMixedCodecsShareState() {
	s.restart(HubOptions{EchoMode: EchoAll}, WSHandlerOptions{})
	pipe := s.connect()
	js := s.dial(protocol.SubprotocolJSON)
	s.readN(js, 4)

	s.send(js, `{"v":1,"type":"counter.increment"}`)
	s.JSONEq(`{"v":1,"type":"counter.set","value":43}`, s.read(js))
	s.Equal("counter|43", s.read(pipe))
}

func (s *RelaySuite) TestNameWithDelimiterKeepsSnapshotWhole() {
	s.restart(HubOptions{UnknownPolicy: UnknownReject}, WSHandlerOptions{})
	js := s.dial(protocol.SubprotocolJSON)
	s.readN(js, 4)

	s.send(js, `{"v":1,"type":"name.set","name":"Lobby|East"}`)
	var env protocol.Envelope
	s.Require().NoError(json.Unmarshal([]byte(s.read(js)), &env))
	s.Equal(protocol.CodeInvalidCommand, env.Code)

	_, err := s.hub.Inject(context.Background(), protocol.SetName("Lobby|East"), Origin{Source: SourceREST})
	s.ErrorIs(err, protocol.ErrInvalidCommand)

	// a pipe session still gets one frame per field
	s.connect()
	s.Equal("Panel Bridge Example", s.store.Snapshot().SystemName)
}

func (s *RelaySuite) TestInjectBroadcastsToAll() {
	a := s.connect()
	b := s.connect()

	res, err := s.hub.Inject(context.Background(), protocol.SetCounter(7), Origin{Source: SourceREST})
	s.Require().NoError(err)
	s.Equal([]state.Change{{Field: "counter", Value: int64(7)}}, res.Changes)

	s.Equal("counter|7", s.read(a))
	s.Equal("counter|7", s.read(b))

	_, origins := s.listener.snapshot()
	s.Require().Len(origins, 1)
	s.Equal(SourceREST, origins[0].Source)

	_, err = s.hub.Inject(context.Background(), protocol.SetDisplayPower("nope", true), Origin{Source: SourceREST})
	s.ErrorIs(err, protocol.ErrUnknownCommand)
	s.ErrorIs(err, state.ErrUnknownDisplay)
}

func (s *RelaySuite) TestRateLimited() {
	s.restart(HubOptions{Session: SessionOptions{RateLimit: 0.001, RateBurst: 1}}, WSHandlerOptions{})
	conn := s.connect()

	s.send(conn, "counter|increment")
	s.send(conn, "counter|increment")
	s.Equal("counter|43", s.read(conn))
	s.Equal("error|rate_limited|counter/increment", s.read(conn))
	s.Equal(int64(43), s.store.Counter())
	s.Equal(int64(1), s.hub.Stats().RateLimited)
}

func (s *RelaySuite) TestPanelTokenRequired() {
	s.restart(HubOptions{}, WSHandlerOptions{Auth: fakeAuth{}})

	_, resp, err := websocket.DefaultDialer.Dial(s.url, nil)
	s.Require().Error(err)
	s.Require().NotNil(resp)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(s.url+"?token=bad", nil)
	s.Require().Error(err)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{"Authorization": []string{"Bearer good"}}
	conn, _, err := websocket.DefaultDialer.Dial(s.url, header)
	s.Require().NoError(err)
	defer conn.Close()
	s.Equal(snapshotFrames, s.readN(conn, 4))
}

func (s *RelaySuite) TestSessionCloseKeepsState() {
	conn := s.connect()
	s.send(conn, "counter|increment")
	s.Equal("counter|43", s.read(conn))
	conn.Close()

	s.Eventually(func() bool { return s.hub.SessionCount() == 0 }, time.Second, 10*time.Millisecond)
	s.Equal(int64(43), s.store.Counter())

	again := s.dial()
	s.Equal("counter|43", s.readN(again, 4)[3])
}

func (s *RelaySuite) TestShutdownClosesSessions() {
	conn := s.connect()
	s.cancel()
	<-s.hub.Done()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	s.Error(err)

	_, err = s.hub.Inject(context.Background(), protocol.IncrementCounter(), Origin{Source: SourceREST})
	s.ErrorIs(err, ErrHubStopped)
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func TestDispatch(t *testing.T) {
	store := state.NewStore("x", []config.DisplayConfig{{ID: "display_1"}}, false, 0)

	res, err := Dispatch(store, protocol.IncrementCounter())
	require.NoError(t, err)
	assert.Equal(t, []protocol.Command{protocol.SetCounter(1)}, res.Feedback)

	res, err = Dispatch(store, protocol.SetDisplayPower("display_1", true))
	require.NoError(t, err)
	assert.Equal(t, []protocol.Command{protocol.SetDisplayPower("display_1", true)}, res.Feedback)
	assert.Equal(t, "display_1.power", res.Changes[0].Field)

	_, err = Dispatch(store, protocol.Command{})
	assert.ErrorIs(t, err, protocol.ErrUnknownCommand)

	_, err = Dispatch(store, protocol.SetName(""))
	assert.ErrorIs(t, err, protocol.ErrInvalidCommand)
}

func TestPanelToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/app?token=q", nil)
	assert.Equal(t, "q", panelToken(r))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", panelToken(r))

	r.Header.Set("Authorization", "Basic xyz")
	assert.Equal(t, "", panelToken(r))
}
