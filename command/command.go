// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package command maps external commands onto session operations.
package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TheThingsNetwork/mqtt-telemetry-agent/middleware"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
	"github.com/apex/log"
)

// DefaultPort is used when a START command has no port
const DefaultPort = 1883

// Session operations that commands are mapped to
type Session interface {
	Connect(host string, port int)
	Disconnect()
	Publish(topic string, payload []byte)
	Subscribe(topic string)
	Unsubscribe(topic string)
	Ping()
	Reconnect()
}

// Dispatcher handles commands
type Dispatcher interface {
	Dispatch(cmd *types.Command) error
}

// Command errors
var (
	ErrUnknownAction = errors.New("command: unknown action")
	ErrMissingHost   = errors.New("command: missing host")
	ErrMissingTopic  = errors.New("command: missing topic")
)

// New returns a new Facade for the session. The chain is a list of
// middleware (see package middleware) that every command passes first.
func New(session Session, ctx log.Interface, chain ...interface{}) *Facade {
	return &Facade{
		ctx:     ctx.WithField("Component", "Command"),
		session: session,
		chain:   middleware.Chain(chain),
	}
}

// Facade dispatches commands to a session
type Facade struct {
	ctx     log.Interface
	session Session
	chain   middleware.Chain
}

func validate(cmd *types.Command) error {
	switch cmd.Action {
	case types.ActionStart:
		if cmd.Host == "" {
			return ErrMissingHost
		}
	case types.ActionPublish, types.ActionSubscribe, types.ActionUnsubscribe:
		if cmd.Topic == "" {
			return ErrMissingTopic
		}
	case types.ActionStop, types.ActionKeepAlive, types.ActionReconnect:
	default:
		return ErrUnknownAction
	}
	return nil
}

// Dispatch a command. It returns once the command has been handed to the
// session; the session handles it asynchronously.
func (f *Facade) Dispatch(cmd *types.Command) error {
	if cmd == nil {
		return ErrUnknownAction
	}
	if action, err := types.ParseAction(string(cmd.Action)); err == nil {
		cmd.Action = action
	}
	if err := validate(cmd); err != nil {
		return err
	}
	ctx := f.ctx.WithField("Action", cmd.Action)
	if err := f.chain.Execute(middleware.NewContext(), cmd); err != nil {
		ctx.WithError(err).Debug("Command blocked by middleware")
		return err
	}

	switch cmd.Action {
	case types.ActionStart:
		port := cmd.Port
		if port == 0 {
			port = DefaultPort
		}
		f.session.Connect(cmd.Host, port)
	case types.ActionStop:
		f.session.Disconnect()
	case types.ActionPublish:
		f.session.Publish(cmd.Topic, []byte(cmd.Message))
	case types.ActionSubscribe:
		f.session.Subscribe(cmd.Topic)
	case types.ActionUnsubscribe:
		f.session.Unsubscribe(cmd.Topic)
	case types.ActionKeepAlive:
		f.session.Ping()
	case types.ActionReconnect:
		f.session.Reconnect()
	}
	ctx.Debug("Dispatched command")
	return nil
}

type jsonCommand struct {
	Action  string `json:"action"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// Parse a JSON command
func Parse(data []byte) (*types.Command, error) {
	var cmd jsonCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("command: invalid json: %w", err)
	}
	action, err := types.ParseAction(cmd.Action)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, ErrUnknownAction)
	}
	return &types.Command{
		Action:  action,
		Host:    cmd.Host,
		Port:    cmd.Port,
		Topic:   cmd.Topic,
		Message: cmd.Message,
	}, nil
}

func handle(ctx log.Interface, dispatcher Dispatcher, data []byte) {
	cmd, err := Parse(data)
	if err != nil {
		ctx.WithError(err).Warn("Could not parse command")
		return
	}
	if err := dispatcher.Dispatch(cmd); err != nil {
		ctx.WithError(err).WithField("Action", cmd.Action).Warn("Could not dispatch command")
	}
}
