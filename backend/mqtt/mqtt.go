// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package mqtt

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/TheThingsNetwork/mqtt-telemetry-agent/backend"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
	"github.com/apex/log"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// OperationTimeout is the maximum time to wait for publish, subscribe,
// unsubscribe and ping
var OperationTimeout = 5 * time.Second

// DisconnectQuiesce is the time in milliseconds that is given to in-flight
// work when disconnecting
var DisconnectQuiesce uint = 250

// QoS indicates the MQTT Quality of Service level.
// 0: The broker/client will deliver the message once, with no confirmation.
// 1: The broker/client will deliver the message at least once, with confirmation required.
// 2: The broker/client will deliver the message exactly once by using a four step handshake.
var (
	PublishQoS   byte = 0x00
	SubscribeQoS byte = 0x00
)

// KeepAliveTopicFormat is the topic of the heartbeat that is sent on Ping
var KeepAliveTopicFormat = "%s/keepalive"

// Config contains configuration for MQTT
type Config struct {
	ClientID  string
	Username  string
	Password  string
	TLSConfig *tls.Config
}

// New returns a new MQTT client. It does not connect.
func New(config Config, ctx log.Interface) *MQTT {
	return &MQTT{
		ctx:    ctx.WithField("Connector", "MQTT"),
		config: config,
	}
}

// MQTT client
type MQTT struct {
	ctx    log.Interface
	config Config

	mu     sync.RWMutex
	client paho.Client
	events backend.Events
}

// SetEvents implements backend.Client
func (c *MQTT) SetEvents(events backend.Events) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = events
}

func (c *MQTT) getEvents() backend.Events {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.events
}

func (c *MQTT) broker(host string, port int) string {
	scheme := "tcp"
	if c.config.TLSConfig != nil {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// Connect implements backend.Client
func (c *MQTT) Connect(host string, port int, timeout time.Duration, keepAlive time.Duration) error {
	broker := c.broker(host, port)
	ctx := c.ctx.WithField("Broker", broker)

	mqttOpts := paho.NewClientOptions()
	mqttOpts.AddBroker(broker)
	if c.config.TLSConfig != nil {
		mqttOpts.SetTLSConfig(c.config.TLSConfig)
	}
	mqttOpts.SetClientID(c.config.ClientID)
	mqttOpts.SetUsername(c.config.Username)
	mqttOpts.SetPassword(c.config.Password)
	mqttOpts.SetKeepAlive(keepAlive)
	mqttOpts.SetPingTimeout(timeout)
	mqttOpts.SetConnectTimeout(timeout)
	mqttOpts.SetCleanSession(true)
	mqttOpts.SetAutoReconnect(false)
	mqttOpts.SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
		if events := c.getEvents(); events != nil {
			events.MessageArrived(msg.Topic(), msg.Payload())
		}
	})
	mqttOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		ctx.WithError(err).Warn("Connection lost")
		if events := c.getEvents(); events != nil {
			events.Disconnected()
		}
	})
	mqttOpts.SetOnConnectHandler(func(_ paho.Client) {
		ctx.Info("Connected")
		if events := c.getEvents(); events != nil {
			events.ConnectAck(types.ConnectAccepted)
		}
	})

	client := paho.NewClient(mqttOpts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("could not connect to %s: %w", broker, backend.ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("could not connect to %s: %w", broker, err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

func (c *MQTT) connected() (paho.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil || !c.client.IsConnected() {
		return nil, backend.ErrNotConnected
	}
	return c.client, nil
}

func wait(token paho.Token) error {
	if !token.WaitTimeout(OperationTimeout) {
		return backend.ErrTimeout
	}
	return token.Error()
}

// Disconnect implements backend.Client
func (c *MQTT) Disconnect() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return backend.ErrNotConnected
	}
	client.Disconnect(DisconnectQuiesce)
	return nil
}

// Publish implements backend.Client
func (c *MQTT) Publish(topic string, payload []byte) error {
	client, err := c.connected()
	if err != nil {
		return err
	}
	if err := wait(client.Publish(topic, PublishQoS, false, payload)); err != nil {
		return err
	}
	c.ctx.WithField("Topic", topic).WithField("Size", len(payload)).Debug("Published message")
	return nil
}

// Subscribe implements backend.Client. Messages on the topic are sent to
// Events.MessageArrived.
func (c *MQTT) Subscribe(topic string) error {
	client, err := c.connected()
	if err != nil {
		return err
	}
	return wait(client.Subscribe(topic, SubscribeQoS, nil))
}

// Unsubscribe implements backend.Client
func (c *MQTT) Unsubscribe(topic string) error {
	client, err := c.connected()
	if err != nil {
		return err
	}
	return wait(client.Unsubscribe(topic))
}

// Ping implements backend.Client. The paho client handles PINGREQ frames by
// itself, so Ping publishes an empty heartbeat on the keepalive topic of the
// client instead.
func (c *MQTT) Ping() error {
	client, err := c.connected()
	if err != nil {
		return err
	}
	return wait(client.Publish(fmt.Sprintf(KeepAliveTopicFormat, c.config.ClientID), PublishQoS, false, []byte{}))
}

// IsConnected implements backend.Client
func (c *MQTT) IsConnected() bool {
	_, err := c.connected()
	return err == nil
}
