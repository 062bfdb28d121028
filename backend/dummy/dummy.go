// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package dummy implements a backend.Client that does not talk to a broker.
// It is used for dry runs and in tests.
package dummy

import (
	"sync"
	"time"

	"github.com/TheThingsNetwork/mqtt-telemetry-agent/backend"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
	"github.com/apex/log"
)

// Operation names used for call counts and injected errors
const (
	OpConnect     = "connect"
	OpDisconnect  = "disconnect"
	OpPublish     = "publish"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPing        = "ping"
)

// Dummy backend
type Dummy struct {
	ctx log.Interface

	mu        sync.Mutex
	connected bool
	events    backend.Events
	errors    map[string]error
	calls     map[string]int
	published []types.Message
	topics    map[string]bool
	latency   time.Duration

	inFlight    int
	maxInFlight int
}

// New returns a new Dummy backend
func New(ctx log.Interface) *Dummy {
	return &Dummy{
		ctx:    ctx.WithField("Connector", "Dummy"),
		errors: make(map[string]error),
		calls:  make(map[string]int),
		topics: make(map[string]bool),
	}
}

// SetError makes all following calls of the operation fail with err. A nil
// err makes them succeed again.
func (d *Dummy) SetError(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.errors, op)
		return
	}
	d.errors[op] = err
}

// SetLatency makes every call take at least the given duration
func (d *Dummy) SetLatency(latency time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latency = latency
}

// Calls returns how many times the operation was called
func (d *Dummy) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Published returns the published messages
func (d *Dummy) Published() []types.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]types.Message(nil), d.published...)
}

// Subscribed returns true if the topic is subscribed
func (d *Dummy) Subscribed(topic string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.topics[topic]
}

// MaxConcurrentCalls returns the highest number of calls that were in
// progress at the same time
func (d *Dummy) MaxConcurrentCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

func (d *Dummy) begin(op string) (latency time.Duration, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[op]++
	d.inFlight++
	if d.inFlight > d.maxInFlight {
		d.maxInFlight = d.inFlight
	}
	return d.latency, d.errors[op]
}

func (d *Dummy) end() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFlight--
}

func (d *Dummy) call(op string, fn func() error) error {
	latency, err := d.begin(op)
	defer d.end()
	if latency > 0 {
		time.Sleep(latency)
	}
	if err != nil {
		d.ctx.WithError(err).Debugf("Failing %s", op)
		return err
	}
	return fn()
}

func (d *Dummy) getEvents() backend.Events {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events
}

// SetEvents implements backend.Client
func (d *Dummy) SetEvents(events backend.Events) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = events
}

// Connect implements backend.Client
func (d *Dummy) Connect(host string, port int, timeout time.Duration, keepAlive time.Duration) error {
	err := d.call(OpConnect, func() error {
		d.mu.Lock()
		d.connected = true
		d.mu.Unlock()
		d.ctx.WithField("Host", host).WithField("Port", port).Debug("Connected")
		return nil
	})
	if err != nil {
		return err
	}
	if events := d.getEvents(); events != nil {
		events.ConnectAck(types.ConnectAccepted)
	}
	return nil
}

// Disconnect implements backend.Client
func (d *Dummy) Disconnect() error {
	return d.call(OpDisconnect, func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if !d.connected {
			return backend.ErrNotConnected
		}
		d.connected = false
		d.topics = make(map[string]bool)
		d.ctx.Debug("Disconnected")
		return nil
	})
}

func (d *Dummy) whenConnected(fn func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return backend.ErrNotConnected
	}
	fn()
	return nil
}

// Publish implements backend.Client
func (d *Dummy) Publish(topic string, payload []byte) error {
	return d.call(OpPublish, func() error {
		return d.whenConnected(func() {
			d.published = append(d.published, types.Message{Topic: topic, Payload: payload})
			d.ctx.WithField("Topic", topic).Debug("Published message")
		})
	})
}

// Subscribe implements backend.Client
func (d *Dummy) Subscribe(topic string) error {
	return d.call(OpSubscribe, func() error {
		return d.whenConnected(func() {
			d.topics[topic] = true
		})
	})
}

// Unsubscribe implements backend.Client
func (d *Dummy) Unsubscribe(topic string) error {
	return d.call(OpUnsubscribe, func() error {
		return d.whenConnected(func() {
			delete(d.topics, topic)
		})
	})
}

// Ping implements backend.Client
func (d *Dummy) Ping() error {
	return d.call(OpPing, func() error {
		return d.whenConnected(func() {})
	})
}

// IsConnected implements backend.Client
func (d *Dummy) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Drop the connection as if the broker went away
func (d *Dummy) Drop() {
	d.mu.Lock()
	wasConnected := d.connected
	d.connected = false
	d.topics = make(map[string]bool)
	events := d.events
	d.mu.Unlock()
	if wasConnected && events != nil {
		d.ctx.Debug("Dropped connection")
		events.Disconnected()
	}
}

// Deliver a message as if it arrived from the broker
func (d *Dummy) Deliver(topic string, payload []byte) {
	if events := d.getEvents(); events != nil {
		events.MessageArrived(topic, payload)
	}
}
