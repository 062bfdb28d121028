// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

import (
	"fmt"
	"time"
)

// State of the session with the broker
type State int

// Session states
const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Disconnecting:
		return "DISCONNECTING"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectParams are the broker coordinates used for the last successful connect
type ConnectParams struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (p ConnectParams) String() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// ConnectStatus is the return code of a CONNACK
type ConnectStatus byte

// Connect return codes as defined by MQTT 3.1.1
const (
	ConnectAccepted ConnectStatus = iota
	ConnectRefusedProtocolVersion
	ConnectRefusedIdentifier
	ConnectRefusedServerUnavailable
	ConnectRefusedBadCredentials
	ConnectRefusedNotAuthorized
)

func (s ConnectStatus) String() string {
	switch s {
	case ConnectAccepted:
		return "accepted"
	case ConnectRefusedProtocolVersion:
		return "refused: unacceptable protocol version"
	case ConnectRefusedIdentifier:
		return "refused: identifier rejected"
	case ConnectRefusedServerUnavailable:
		return "refused: server unavailable"
	case ConnectRefusedBadCredentials:
		return "refused: bad user name or password"
	case ConnectRefusedNotAuthorized:
		return "refused: not authorized"
	}
	return fmt.Sprintf("refused: unknown return code %d", byte(s))
}

// Message is a message that arrived on a subscribed topic
type Message struct {
	Topic   string
	Payload []byte
}

// Status is a snapshot of the session, used for status reporting
type Status struct {
	State          State     `json:"state"`
	DeviceID       string    `json:"device_id"`
	Host           string    `json:"host,omitempty"`
	Port           int       `json:"port,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	ConnectedSince time.Time `json:"connected_since"`
	Topics         []string  `json:"topics"`
}
