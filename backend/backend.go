// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package backend

import (
	"errors"
	"time"

	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
)

// Client talks to the broker. A Client is not safe for concurrent use; the
// session serializes all calls.
type Client interface {
	Connect(host string, port int, timeout time.Duration, keepAlive time.Duration) error
	Disconnect() error
	Publish(topic string, payload []byte) error
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Ping() error
	IsConnected() bool
	SetEvents(events Events)
}

// Events are sent by a Client. They may be sent from any goroutine.
type Events interface {
	ConnectAck(status types.ConnectStatus)
	Disconnected()
	MessageArrived(topic string, payload []byte)
}

// Client errors
var (
	ErrNotConnected = errors.New("backend: not connected")
	ErrTimeout      = errors.New("backend: operation timed out")
)
