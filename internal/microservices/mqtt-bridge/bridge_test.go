package mqttbridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"panelbridge/internal/config"
	"panelbridge/internal/microservices/relay"
	"panelbridge/internal/protocol"
	"panelbridge/internal/state"
)

// MockClient mocks mqtt.Client
type MockClient struct {
	mock.Mock
}

func (m *MockClient) IsConnected() bool      { return m.Called().Bool(0) }
func (m *MockClient) IsConnectionOpen() bool { return m.Called().Bool(0) }
func (m *MockClient) Connect() mqtt.Token    { return m.Called().Get(0).(mqtt.Token) }
func (m *MockClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return m.Called(topic, qos, retained, payload).Get(0).(mqtt.Token)
}

func (m *MockClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.Called(topic, qos, callback).Get(0).(mqtt.Token)
}

func (m *MockClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.Called(filters, callback).Get(0).(mqtt.Token)
}

func (m *MockClient) Unsubscribe(topics ...string) mqtt.Token {
	return m.Called(topics).Get(0).(mqtt.Token)
}

func (m *MockClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockClient) OptionsReader() mqtt.ClientOptionsReader {
	return m.Called().Get(0).(mqtt.ClientOptionsReader)
}

// doneToken is an already completed token
type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeHub struct {
	mu       sync.Mutex
	store    *state.Store
	injected []protocol.Command
	origins  []relay.Origin
}

func newFakeHub() *fakeHub {
	return &fakeHub{store: state.NewStore("Panel Bridge Example", []config.DisplayConfig{{ID: "display_1"}}, true, 42)}
}

func (h *fakeHub) Inject(_ context.Context, cmd protocol.Command, origin relay.Origin) (relay.Result, error) {
	h.mu.Lock()
	h.injected = append(h.injected, cmd)
	h.origins = append(h.origins, origin)
	h.mu.Unlock()
	return relay.Dispatch(h.store, cmd)
}

func (h *fakeHub) Snapshot() state.Snapshot { return h.store.Snapshot() }

func (h *fakeHub) commands() []protocol.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]protocol.Command(nil), h.injected...)
}

func TestTopics(t *testing.T) {
	b := New(newFakeHub(), Options{TopicRoot: "site/a"})
	assert.Equal(t, "site/a/status", b.StatusTopic())
	assert.Equal(t, "site/a/cmd", b.CommandTopic())
	assert.Equal(t, "site/a/state/counter", b.StateTopic("counter"))
}

func TestClientOptions(t *testing.T) {
	b := New(newFakeHub(), Options{TopicRoot: "site"})
	opts := b.ClientOptions("tcp://broker:1883", "relay-1")

	assert.Equal(t, "relay-1", opts.ClientID)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "site/status", opts.WillTopic)
	assert.True(t, opts.WillRetained)
	assert.True(t, opts.AutoReconnect)
}

func TestConnectPublishesSnapshotAndSubscribes(t *testing.T) {
	client := new(MockClient)
	client.On("Connect").Return(doneToken{})
	client.On("Subscribe", "panelbridge/cmd", byte(0), mock.Anything).Return(doneToken{})
	pubs := &publications{}
	client.On("Publish", mock.Anything, byte(0), true, mock.Anything).
		Return(doneToken{}).
		Run(func(args mock.Arguments) { pubs.add(args.String(0), args.Get(3)) })
	client.On("IsConnectionOpen").Return(true)
	client.On("Disconnect", uint(250)).Return()

	hub := newFakeHub()
	b := New(hub, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Start(ctx, client))

	b.handleConnect(client)
	b.OnChange(hub.store.SetCounter(7), relay.Origin{Source: relay.SourceSession})

	require.Eventually(t, func() bool {
		return pubs.has("panelbridge/state/counter", "7")
	}, time.Second, 10*time.Millisecond)

	cancel()
	b.Wait()

	assert.True(t, pubs.has("panelbridge/status", "online"))
	assert.True(t, pubs.has("panelbridge/state/system_name", "Panel Bridge Example"))
	assert.True(t, pubs.has("panelbridge/state/display_1.power", "true"))
	assert.True(t, pubs.has("panelbridge/state/counter", "42"))
	assert.True(t, pubs.has("panelbridge/status", "offline"))
	client.AssertCalled(t, "Disconnect", uint(250))
}

type publications struct {
	mu   sync.Mutex
	seen []string
}

func (p *publications) add(topic string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, topic+"="+payload.(string))
}

func (p *publications) has(topic, payload string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.seen {
		if s == topic+"="+payload {
			return true
		}
	}
	return false
}

func TestStartConnectError(t *testing.T) {
	client := new(MockClient)
	client.On("Connect").Return(doneToken{err: errors.New("refused")})

	b := New(newFakeHub(), Options{})
	err := b.Start(context.Background(), client)
	assert.EqualError(t, err, "refused")
}

func TestHandleMessage(t *testing.T) {
	hub := newFakeHub()
	b := New(hub, Options{})

	b.handleMessage(nil, fakeMessage{topic: "panelbridge/cmd", payload: []byte("counter|increment\n")})
	b.handleMessage(nil, fakeMessage{topic: "panelbridge/cmd", payload: []byte(`{"v":1,"type":"display.power","id":"display_1","power":false}`)})
	b.handleMessage(nil, fakeMessage{topic: "panelbridge/cmd", payload: []byte("volume|up")})
	b.handleMessage(nil, fakeMessage{topic: "panelbridge/cmd", payload: []byte("displays|nope|power_on")})

	assert.Equal(t, []protocol.Command{
		protocol.IncrementCounter(),
		protocol.SetDisplayPower("display_1", false),
		protocol.SetDisplayPower("nope", true),
	}, hub.commands())
	assert.Equal(t, relay.SourceMQTT, hub.origins[0].Source)
	assert.Equal(t, int64(43), hub.store.Counter())
}

func TestOutboxFullDrops(t *testing.T) {
	b := New(newFakeHub(), Options{Outbox: 1})
	b.OnChange(state.Change{Field: "counter", Value: int64(1)}, relay.Origin{})
	b.OnChange(state.Change{Field: "counter", Value: int64(2)}, relay.Origin{})
	assert.Equal(t, int64(1), b.Dropped())
}
