// Package mqtt is a small reconnecting wrapper around the paho client.
package mqtt

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	reconnectInterval = 5 * time.Second
	disconnectQuiesce = 100
)

type Config struct {
	Server   string
	ClientID string
	Username string
	Password string
	// InsecureTLS skips broker certificate verification.
	InsecureTLS bool
}

type Client struct {
	opts *MQTT.ClientOptions

	mu     sync.Mutex
	client MQTT.Client
	id     int
	subs   map[string]func(string)
}

var ErrNotConnected = errors.New("MQTT client not connected")

// New connects to the broker and keeps reconnecting until ctx is done.
// Subscriptions are restored after every reconnect.
func New(ctx context.Context, config *Config) *Client {
	connOpts := MQTT.NewClientOptions().
		AddBroker(config.Server).
		SetClientID(config.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false)

	if config.Username != "" {
		connOpts.SetUsername(config.Username)
		if config.Password != "" {
			connOpts.SetPassword(config.Password)
		}
	}
	if config.InsecureTLS {
		connOpts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true, ClientAuth: tls.NoClientCert})
	}
	connOpts.OnConnectionLost = func(c MQTT.Client, err error) {
		log.WithError(err).Warn("MQTT disconnected")
	}

	m := &Client{opts: connOpts, subs: map[string]func(string){}}
	m.connect()
	go m.keepAlive(ctx)
	return m
}

func (m *Client) connect() {
	log.Infof("trying to connect to MQTT %v ...", m.opts.Servers)
	newClient := MQTT.NewClient(m.opts)
	token := newClient.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		log.WithError(err).Warn("MQTT connect failed")
		return
	}

	m.mu.Lock()
	m.client = newClient
	m.id++
	id := m.id
	subs := make(map[string]func(string), len(m.subs))
	for topic, cb := range m.subs {
		subs[topic] = cb
	}
	m.mu.Unlock()

	log.Infof("connected to MQTT, session %d", id)
	for topic, cb := range subs {
		if err := m.subscribe(newClient, topic, cb); err != nil {
			log.WithError(err).WithField("topic", topic).Error("resubscribe failed")
		}
	}
}

func (m *Client) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !m.Connected() {
				m.connect()
			}
		case <-ctx.Done():
			m.mu.Lock()
			c := m.client
			m.client = nil
			m.mu.Unlock()
			if c != nil {
				c.Disconnect(disconnectQuiesce)
			}
			return
		}
	}
}

func (m *Client) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil && m.client.IsConnectionOpen()
}

// Session increases every time a new broker connection is made.
func (m *Client) Session() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

func (m *Client) current() MQTT.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *Client) Publish(topic string, qos byte, retained bool, payload string) error {
	c := m.current()
	if c == nil {
		return ErrNotConnected
	}
	token := c.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers callback for topic. The subscription is remembered
// even when the broker is currently unreachable.
func (m *Client) Subscribe(topic string, callback func(message string)) error {
	m.mu.Lock()
	m.subs[topic] = callback
	c := m.client
	m.mu.Unlock()

	if c == nil {
		return ErrNotConnected
	}
	return m.subscribe(c, topic, callback)
}

func (m *Client) subscribe(c MQTT.Client, topic string, callback func(string)) error {
	token := c.Subscribe(topic, 0, func(_ MQTT.Client, msg MQTT.Message) {
		callback(string(msg.Payload()))
	})
	token.Wait()
	return token.Error()
}
