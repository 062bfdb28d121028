// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package types

import (
	"fmt"
	"strings"
)

// Action of a command
type Action string

// Actions that can be requested from the session
const (
	ActionStart       Action = "START"
	ActionStop        Action = "STOP"
	ActionPublish     Action = "PUBLISH"
	ActionSubscribe   Action = "SUBSCRIBE"
	ActionUnsubscribe Action = "UNSUBSCRIBE"
	ActionKeepAlive   Action = "KEEPALIVE"
	ActionReconnect   Action = "RECONNECT"
)

var actions = []Action{
	ActionStart,
	ActionStop,
	ActionPublish,
	ActionSubscribe,
	ActionUnsubscribe,
	ActionKeepAlive,
	ActionReconnect,
}

// legacySuffix is appended to action names by older senders (START_MQTT, ...)
const legacySuffix = "_MQTT"

// ParseAction parses an action name. It is case-insensitive and accepts the
// legacy "<ACTION>_MQTT" names.
func ParseAction(name string) (Action, error) {
	name = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(name)), legacySuffix)
	for _, action := range actions {
		if string(action) == name {
			return action, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", name)
}

// Command is a request for the session, coming from outside the process
type Command struct {
	Action  Action `json:"action"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Message string `json:"message,omitempty"`
}
