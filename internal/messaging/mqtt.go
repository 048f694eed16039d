package messaging

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"

	qosAtLeastOnce byte = 1
)

type MQTTOptions struct {
	BrokerURL     string
	ClientID      string
	Username      string
	Password      string
	KeepAlive     time.Duration
	Subscriptions []string
	PresenceTopic string
	InboundBuffer int
	Logger        *slog.Logger
}

// MQTTClient is the device-facing fabric. Inbound publications on the
// subscribed topics are queued on Messages; the paho callback never does
// any work beyond the enqueue.
type MQTTClient struct {
	client  mqtt.Client
	opts    MQTTOptions
	inbound chan Message
	logger  *slog.Logger
	dropped func()
}

func NewMQTTClient(opts MQTTOptions) *MQTTClient {
	if opts.InboundBuffer <= 0 {
		opts.InboundBuffer = 1024
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &MQTTClient{
		opts:    opts,
		inbound: make(chan Message, opts.InboundBuffer),
		logger:  logger.With("component", "mqtt"),
	}

	co := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetKeepAlive(opts.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Warn("Connection lost", "error", err)
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			c.logger.Info("Reconnecting to broker", "broker", opts.BrokerURL)
		})
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	if strings.HasPrefix(opts.BrokerURL, "ssl://") || strings.HasPrefix(opts.BrokerURL, "wss://") {
		co.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	if opts.PresenceTopic != "" {
		co.SetWill(opts.PresenceTopic, PresenceOffline, qosAtLeastOnce, true)
	}

	c.client = mqtt.NewClient(co)
	return c
}

// OnDrop registers a hook called whenever an inbound message is discarded
// because the queue is full.
func (c *MQTTClient) OnDrop(fn func()) {
	c.dropped = fn
}

// Connect starts the connection. Retries continue in the background, so a
// broker that is down at boot does not fail startup.
func (c *MQTTClient) Connect(ctx context.Context) error {
	token := c.client.Connect()

	wait := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		c.logger.Warn("Broker not reachable yet, retrying in background", "broker", c.opts.BrokerURL)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.logger.Info("Connected to broker", "broker", c.opts.BrokerURL, "client_id", c.opts.ClientID)

	for _, topic := range c.opts.Subscriptions {
		token := client.Subscribe(topic, qosAtLeastOnce, c.handleMessage)
		go func(topic string, token mqtt.Token) {
			token.Wait()
			if err := token.Error(); err != nil {
				c.logger.Error("Subscribe failed", "topic", topic, "error", err)
				return
			}
			c.logger.Info("Subscribed", "topic", topic)
		}(topic, token)
	}

	if c.opts.PresenceTopic != "" {
		client.Publish(c.opts.PresenceTopic, qosAtLeastOnce, true, PresenceOnline)
	}
}

func (c *MQTTClient) handleMessage(_ mqtt.Client, m mqtt.Message) {
	msg := Message{Topic: m.Topic(), Payload: append([]byte(nil), m.Payload()...)}
	select {
	case c.inbound <- msg:
	default:
		c.logger.Warn("Inbound queue full, dropping message", "topic", msg.Topic)
		if c.dropped != nil {
			c.dropped()
		}
	}
}

// Messages is the inbound queue. It is never closed; consumers stop on
// their own context.
func (c *MQTTClient) Messages() <-chan Message {
	return c.inbound
}

func (c *MQTTClient) Publish(ctx context.Context, topic string, payload any, retained bool) error {
	data, err := Encode(payload)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, qosAtLeastOnce, retained, data)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish %s: %w", topic, ctx.Err())
	}
}

func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close announces offline on the presence topic and disconnects.
func (c *MQTTClient) Close(ctx context.Context) {
	if c.opts.PresenceTopic != "" && c.client.IsConnectionOpen() {
		if err := c.Publish(ctx, c.opts.PresenceTopic, PresenceOffline, true); err != nil {
			c.logger.Warn("Failed to publish offline presence", "error", err)
		}
	}
	c.client.Disconnect(250)
	c.logger.Info("Disconnected from broker")
}
