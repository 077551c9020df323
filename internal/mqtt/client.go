// Package mqtt is the broker connector. It builds a Paho client from
// configuration (endpoint, credentials, pinned-version TLS), performs a
// bounded connect handshake, and exposes the publish surface the bridge
// forwards envelopes through. Reconnection is owned by the orchestrator, so
// Paho's own auto-reconnect stays disabled.
package mqtt

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gor2m/pkg/types"
)

const (
	connectTimeout = 15 * time.Second
	publishTimeout = 10 * time.Second

	defaultKeepalive = 60 * time.Second
)

// Client wraps the Eclipse Paho MQTT client for publish-only bridge use.
type Client struct {
	config *types.MQTTConfig
	client mqtt.Client
	log    *logrus.Entry

	onConnectionLost func(error)
}

// NewClient creates an MQTT client with the provided configuration.
// Connect must be called before publishing.
func NewClient(config *types.MQTTConfig) *Client {
	return &Client{
		config: config,
		log:    logrus.WithField("component", "mqtt"),
	}
}

// SetConnectionLostHandler registers a callback for broker disconnects.
// It must be set before Connect.
func (c *Client) SetConnectionLostHandler(handler func(error)) {
	c.onConnectionLost = handler
}

// Connect establishes the broker connection, bounded by connectTimeout.
// A timed-out or half-completed handshake tears the client down and returns
// an error for the connection manager to retry; it never hangs.
func (c *Client) Connect() error {
	opts := mqtt.NewClientOptions()

	scheme := "tcp"
	if c.config.Broker.UseTLS {
		scheme = "ssl"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", scheme, c.config.Broker.Host, c.config.Broker.Port)
	opts.AddBroker(brokerURL)

	clientID := c.clientID()
	opts.SetClientID(clientID)

	// Credentials are applied only when both halves are present
	if c.config.Auth.Username != "" && c.config.Auth.Password != "" {
		opts.SetUsername(c.config.Auth.Username)
		opts.SetPassword(c.config.Auth.Password)
	}

	if c.config.Broker.UseTLS {
		tlsConfig, err := newTLSConfig(&c.config.TLS, c.config.Broker.Host)
		if err != nil {
			return fmt.Errorf("build TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	keepalive := defaultKeepalive
	if c.config.Broker.Keepalive > 0 {
		keepalive = time.Duration(c.config.Broker.Keepalive) * time.Second
	}
	opts.SetKeepAlive(keepalive)
	opts.SetCleanSession(c.config.Client.CleanSession)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(false)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if c.onConnectionLost != nil {
			c.onConnectionLost(err)
		}
	})

	client := mqtt.NewClient(opts)

	c.log.WithFields(logrus.Fields{
		"broker":    brokerURL,
		"client_id": clientID,
		"tls":       c.config.Broker.UseTLS,
	}).Debug("connecting to MQTT broker")

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(0)
		return fmt.Errorf("connect to %s timed out after %s", brokerURL, connectTimeout)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("connect to %s: %s: %w", brokerURL, connectCause(err), err)
	}
	if !client.IsConnected() {
		client.Disconnect(0)
		return fmt.Errorf("connect to %s: handshake incomplete", brokerURL)
	}

	c.client = client
	return nil
}

// Publish sends one message at the given QoS/retain, bounded by publishTimeout.
func (c *Client) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if c.client == nil {
		return errors.New("mqtt client not connected")
	}

	token := c.client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out after %s", topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Disconnect closes the broker connection, allowing in-flight work to drain.
func (c *Client) Disconnect() {
	if c.client != nil {
		c.client.Disconnect(250)
		c.client = nil
	}
}

// clientID builds "{prefix}_{hostname}_{pid}" so concurrent bridge instances
// on one host never collide. A "{random}" placeholder in the configured
// prefix is replaced with a short UUID fragment.
func (c *Client) clientID() string {
	prefix := c.config.Client.ClientID
	if prefix == "" {
		prefix = "gor2m"
	}
	if strings.Contains(prefix, "{random}") {
		prefix = strings.ReplaceAll(prefix, "{random}", uuid.NewString()[:8])
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s_%s_%d", prefix, hostname, os.Getpid())
}

// connectCause maps broker CONNACK refusals to a readable diagnosis. The
// wrapped error keeps the original for errors.Is checks.
func connectCause(err error) string {
	switch {
	case errors.Is(err, packets.ErrorRefusedBadProtocolVersion):
		return "broker rejected protocol version"
	case errors.Is(err, packets.ErrorRefusedIDRejected):
		return "broker rejected client id"
	case errors.Is(err, packets.ErrorRefusedServerUnavailable):
		return "broker unavailable"
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword):
		return "bad username or password"
	case errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return "not authorized"
	default:
		return "connection failed"
	}
}
