// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package middleware

import (
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
)

// Context for middleware
type Context interface {
	Set(k, v interface{})
	Get(k interface{}) interface{}
}

// NewContext returns a new middleware context
func NewContext() Context {
	return &context{
		data: make(map[interface{}]interface{}),
	}
}

type context struct {
	data map[interface{}]interface{}
}

func (c *context) Set(k, v interface{}) {
	c.data[k] = v
}

func (c *context) Get(k interface{}) interface{} {
	if v, ok := c.data[k]; ok {
		return v
	}
	return nil
}

// Chain of middleware
type Chain []interface{}

// Execute the chain for a command. Actions without a middleware interface
// pass through.
func (c Chain) Execute(ctx Context, cmd *types.Command) error {
	switch cmd.Action {
	case types.ActionStart:
		return c.filterStart().Execute(ctx, cmd)
	case types.ActionStop:
		return c.filterStop().Execute(ctx, cmd)
	case types.ActionPublish:
		return c.filterPublish().Execute(ctx, cmd)
	case types.ActionSubscribe:
		return c.filterSubscribe().Execute(ctx, cmd)
	case types.ActionUnsubscribe:
		return c.filterUnsubscribe().Execute(ctx, cmd)
	}
	return nil
}

// Start middleware
type Start interface {
	HandleStart(Context, *types.Command) error
}

type startChain []Start

func (c startChain) Execute(ctx Context, cmd *types.Command) error {
	for _, middleware := range c {
		err := middleware.HandleStart(ctx, cmd)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) filterStart() (filtered startChain) {
	for _, middleware := range c {
		if c, ok := middleware.(Start); ok {
			filtered = append(filtered, c)
		}
	}
	return
}

// Stop middleware
type Stop interface {
	HandleStop(Context, *types.Command) error
}

type stopChain []Stop

func (c stopChain) Execute(ctx Context, cmd *types.Command) error {
	for _, middleware := range c {
		err := middleware.HandleStop(ctx, cmd)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) filterStop() (filtered stopChain) {
	for _, middleware := range c {
		if c, ok := middleware.(Stop); ok {
			filtered = append(filtered, c)
		}
	}
	return
}

// Publish middleware
type Publish interface {
	HandlePublish(Context, *types.Command) error
}

type publishChain []Publish

func (c publishChain) Execute(ctx Context, cmd *types.Command) error {
	for _, middleware := range c {
		err := middleware.HandlePublish(ctx, cmd)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) filterPublish() (filtered publishChain) {
	for _, middleware := range c {
		if c, ok := middleware.(Publish); ok {
			filtered = append(filtered, c)
		}
	}
	return
}

// Subscribe middleware
type Subscribe interface {
	HandleSubscribe(Context, *types.Command) error
}

type subscribeChain []Subscribe

func (c subscribeChain) Execute(ctx Context, cmd *types.Command) error {
	for _, middleware := range c {
		err := middleware.HandleSubscribe(ctx, cmd)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) filterSubscribe() (filtered subscribeChain) {
	for _, middleware := range c {
		if c, ok := middleware.(Subscribe); ok {
			filtered = append(filtered, c)
		}
	}
	return
}

// Unsubscribe middleware
type Unsubscribe interface {
	HandleUnsubscribe(Context, *types.Command) error
}

type unsubscribeChain []Unsubscribe

func (c unsubscribeChain) Execute(ctx Context, cmd *types.Command) error {
	for _, middleware := range c {
		err := middleware.HandleUnsubscribe(ctx, cmd)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) filterUnsubscribe() (filtered unsubscribeChain) {
	for _, middleware := range c {
		if c, ok := middleware.(Unsubscribe); ok {
			filtered = append(filtered, c)
		}
	}
	return
}
