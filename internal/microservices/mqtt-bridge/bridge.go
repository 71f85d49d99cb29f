// Package mqttbridge mirrors the relay state to an MQTT broker and accepts
// commands from the control system side.
//
// Topics, under a configurable root:
//
//	<root>/status         online|offline (retained, offline is the will)
//	<root>/state/<field>  current value of each field (retained)
//	<root>/cmd            inbound commands, pipe text or a JSON envelope
package mqttbridge

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"panelbridge/internal/microservices/relay"
	"panelbridge/internal/protocol"
	"panelbridge/internal/state"
)

const (
	publishTimeout = 5 * time.Second
	injectTimeout  = 5 * time.Second
)

// Injector is the part of the hub the bridge drives
type Injector interface {
	Inject(ctx context.Context, cmd protocol.Command, origin relay.Origin) (relay.Result, error)
	Snapshot() state.Snapshot
}

type Options struct {
	TopicRoot string
	QoS       byte
	Outbox    int
	Logger    *slog.Logger
}

type publication struct {
	topic   string
	payload string
}

type Bridge struct {
	hub     Injector
	client  mqtt.Client
	root    string
	qos     byte
	outbox  chan publication
	dropped atomic.Int64
	done    chan struct{}
	logger  *slog.Logger
}

func New(hub Injector, opts Options) *Bridge {
	if opts.TopicRoot == "" {
		opts.TopicRoot = "panelbridge"
	}
	if opts.Outbox <= 0 {
		opts.Outbox = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{
		hub:    hub,
		root:   opts.TopicRoot,
		qos:    opts.QoS,
		outbox: make(chan publication, opts.Outbox),
		done:   make(chan struct{}),
		logger: opts.Logger,
	}
}

func (b *Bridge) StatusTopic() string { return b.root + "/status" }

func (b *Bridge) CommandTopic() string { return b.root + "/cmd" }

func (b *Bridge) StateTopic(field string) string { return b.root + "/state/" + field }

// ClientOptions returns paho options wired to this bridge. Reconnects
// re-run the connect handler, which resubscribes and republishes state.
func (b *Bridge) ClientOptions(broker, clientID string) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetOrderMatters(true).
		SetWill(b.StatusTopic(), "offline", b.qos, true)

	opts.SetOnConnectHandler(b.handleConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Warn("mqtt_connection_lost", "error", err)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		b.logger.Info("mqtt_reconnecting")
	})
	return opts
}

// Start connects the client and runs the publisher until ctx is done.
// With SetConnectRetry the first connect keeps retrying in the background,
// so Start only waits a bounded time before returning.
func (b *Bridge) Start(ctx context.Context, client mqtt.Client) error {
	b.client = client
	token := client.Connect()
	if token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return token.Error()
	}
	go b.run(ctx)
	return nil
}

// Wait blocks until the publisher has stopped and the client disconnected
func (b *Bridge) Wait() {
	<-b.done
}

func (b *Bridge) Dropped() int64 { return b.dropped.Load() }

// OnChange implements relay.ChangeListener. It runs on the hub goroutine
// and only queues.
func (b *Bridge) OnChange(change state.Change, _ relay.Origin) {
	b.queue(publication{topic: b.StateTopic(change.Field), payload: change.Text()})
}

func (b *Bridge) queue(p publication) {
	select {
	case b.outbox <- p:
	default:
		b.dropped.Add(1)
		b.logger.Warn("mqtt_outbox_full", "topic", p.topic)
	}
}

func (b *Bridge) handleConnect(client mqtt.Client) {
	b.logger.Info("mqtt_connected", "root", b.root)

	token := client.Subscribe(b.CommandTopic(), b.qos, b.handleMessage)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		b.logger.Error("mqtt_subscribe_failed", "topic", b.CommandTopic(), "error", token.Error())
	}

	b.queue(publication{topic: b.StatusTopic(), payload: "online"})
	for _, field := range b.hub.Snapshot().Fields() {
		b.queue(publication{topic: b.StateTopic(field.Field), payload: field.Text()})
	}
}

func (b *Bridge) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := bytes.TrimSpace(msg.Payload())
	codec := protocol.Sniff(payload)
	cmd, err := codec.Decode(payload)
	if err != nil {
		b.logger.Warn("mqtt_command_invalid",
			"topic", msg.Topic(),
			"payload", string(payload),
			"code", protocol.ErrorCode(err),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), injectTimeout)
	defer cancel()

	if _, err := b.hub.Inject(ctx, cmd, relay.Origin{Source: relay.SourceMQTT}); err != nil {
		b.logger.Warn("mqtt_command_rejected", "command", cmd.String(), "error", err)
		return
	}
	b.logger.Debug("mqtt_command_applied", "command", cmd.String())
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			if b.client.IsConnectionOpen() {
				b.publish(publication{topic: b.StatusTopic(), payload: "offline"})
			}
			b.client.Disconnect(250)
			b.logger.Info("mqtt_bridge_stopped", "dropped", b.dropped.Load())
			return
		case p := <-b.outbox:
			b.publish(p)
		}
	}
}

func (b *Bridge) publish(p publication) {
	token := b.client.Publish(p.topic, b.qos, true, p.payload)
	if !token.WaitTimeout(publishTimeout) {
		b.logger.Warn("mqtt_publish_timeout", "topic", p.topic)
		return
	}
	if err := token.Error(); err != nil {
		b.logger.Warn("mqtt_publish_failed", "topic", p.topic, "error", err)
	}
}
