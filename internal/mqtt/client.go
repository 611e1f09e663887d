package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/treed/hairmqtt/internal/config"
	"github.com/treed/hairmqtt/internal/connwatch"
)

// KeepaliveBackoff is how long [Client.Keep] pauses after reporting a
// connection error.
const KeepaliveBackoff = 10 * time.Second

// Fixed topics published by the bridge.
const (
	TopicTelemetry = "hairmqtt/telemetry"
	TopicSession   = "hairmqtt/session"
	TopicConnected = "hairmqtt/connected"
)

// Connection topic payloads.
const (
	PayloadConnected    = "connected"
	PayloadDisconnected = "disconnected"
)

// Publish kinds passed to [PublishObserver].
const (
	KindValue     = "value"
	KindDiscovery = "discovery"
	KindRetract   = "retract"
)

// ErrNotStarted is returned by [Client.AwaitConnection] before [Client.Start].
var ErrNotStarted = errors.New("mqtt client not started")

// PublishObserver is notified after every publish attempt. The metrics
// package implements it; a nil observer is ignored.
type PublishObserver interface {
	ObservePublish(kind string, err error)
}

// publisher is the slice of the autopaho connection manager the client
// uses, so tests can substitute a recorder.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Client publishes bridge output to the broker.
type Client struct {
	cfg      config.MQTTConfig
	server   *url.URL
	clientID string
	logger   *slog.Logger
	observer PublishObserver
	timeout  time.Duration

	errs chan error
	cm   *autopaho.ConnectionManager
	pub  publisher
}

// New creates a Client but does not connect. Call [Client.Start] to
// open the connection.
func New(cfg config.MQTTConfig, clientID string, logger *slog.Logger) (*Client, error) {
	server, err := url.Parse(cfg.BrokerURL())
	if err != nil {
		return nil, fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		server:   server,
		clientID: clientID,
		logger:   logger,
		timeout:  5 * time.Second,
		errs:     make(chan error, 16),
	}, nil
}

// Connect is New followed by Start.
func Connect(ctx context.Context, cfg config.MQTTConfig, clientID string, logger *slog.Logger) (*Client, error) {
	c, err := New(cfg, clientID, logger)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// SetObserver installs a publish observer. Call before Start.
func (c *Client) SetObserver(o PublishObserver) {
	c.observer = o
}

// Start hands the connection to autopaho, which dials in the
// background and redials on loss until ctx is cancelled. The will
// message flips the connection sensor off if the bridge dies without
// saying goodbye.
func (c *Client) Start(ctx context.Context) error {
	keepAlive := c.cfg.KeepAliveSec
	if keepAlive <= 0 {
		keepAlive = 30
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{c.server},
		KeepAlive:  uint16(keepAlive),
		WillMessage: &paho.WillMessage{
			Topic:   TopicConnected,
			Payload: []byte(PayloadDisconnected),
			QoS:     1,
		},
		OnConnectionUp: func(_ *autopaho.ConnectionManager, _ *paho.Connack) {
			c.logger.Info("mqtt connected to broker", "broker", c.server.Redacted())
		},
		OnConnectError: func(err error) {
			c.report(fmt.Errorf("connect: %w", err))
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.clientID,
			OnClientError: func(err error) {
				c.report(fmt.Errorf("client: %w", err))
			},
		},
	}
	if c.cfg.HasCredentials() {
		pahoCfg.ConnectUsername = c.cfg.Username
		pahoCfg.ConnectPassword = []byte(c.cfg.Password)
	}

	switch c.server.Scheme {
	case "mqtts", "ssl", "wss":
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.cm = cm
	c.pub = cm
	return nil
}

// report queues a connection error for Keep. Errors beyond the buffer
// are dropped; autopaho will report the next one soon enough.
func (c *Client) report(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

// Keep drains connection errors until ctx is cancelled, logging each
// one and pausing [KeepaliveBackoff] before reading the next.
func (c *Client) Keep(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-c.errs:
			c.logger.Warn("mqtt connection error",
				"broker", c.server.Redacted(),
				"retry_in", KeepaliveBackoff.String(),
				"error", err,
			)
			if !connwatch.Sleep(ctx, KeepaliveBackoff) {
				return nil
			}
		}
	}
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires. It doubles as the connwatch probe for the broker link.
func (c *Client) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return ErrNotStarted
	}
	return c.cm.AwaitConnection(ctx)
}

// Stop announces the disconnect and closes the connection.
func (c *Client) Stop(ctx context.Context) error {
	if c.cm == nil {
		return nil
	}
	c.PublishRaw(ctx, TopicConnected, []byte(PayloadDisconnected))
	return c.cm.Disconnect(ctx)
}

// PublishValue encodes v as JSON and publishes it at QoS 0.
func (c *Client) PublishValue(ctx context.Context, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("mqtt value not serializable", "topic", topic, "error", err)
		c.observe(KindValue, err)
		return
	}
	c.PublishRaw(ctx, topic, payload)
}

// PublishRaw publishes payload unchanged at QoS 0.
func (c *Client) PublishRaw(ctx context.Context, topic string, payload []byte) {
	c.publish(ctx, KindValue, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
	})
}

// PublishDiscovery publishes a discovery config at QoS 1. Configs are
// not retained: each session announces the entities its car actually
// has, and nothing lingers in Home Assistant after a car change.
func (c *Client) PublishDiscovery(ctx context.Context, topic string, payload []byte) {
	c.publish(ctx, KindDiscovery, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	})
}

// Retract publishes an empty retained config, which tells Home
// Assistant to delete the entity and clears any retained copy a
// previous version left on the broker. Unlike the other publishes it
// returns the error, so a caller tracking announced topics only
// forgets the ones the broker acknowledged.
func (c *Client) Retract(ctx context.Context, topic string) error {
	return c.publish(ctx, KindRetract, &paho.Publish{
		Topic:  topic,
		QoS:    1,
		Retain: true,
	})
}

func (c *Client) publish(ctx context.Context, kind string, p *paho.Publish) error {
	if c.pub == nil {
		c.logger.Warn("mqtt publish before start", "topic", p.Topic)
		c.observe(kind, ErrNotStarted)
		return ErrNotStarted
	}

	pubCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.pub.Publish(pubCtx, p)
	c.observe(kind, err)
	if err != nil {
		c.logger.Warn("mqtt publish failed",
			"kind", kind,
			"topic", p.Topic,
			"error", err,
		)
		return err
	}
	c.logger.Log(ctx, config.LevelTrace, "mqtt published",
		"kind", kind,
		"topic", p.Topic,
		"bytes", len(p.Payload),
	)
	return nil
}

func (c *Client) observe(kind string, err error) {
	if c.observer != nil {
		c.observer.ObservePublish(kind, err)
	}
}
