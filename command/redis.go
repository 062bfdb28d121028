// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package command

import (
	"github.com/apex/log"
	redis "gopkg.in/redis.v5"
)

// DefaultRedisChannel is the channel commands are received on
const DefaultRedisChannel = "telemetry:commands"

// NewRedisSource returns a command source that subscribes to a Redis channel.
// Every message on the channel is one JSON command.
func NewRedisSource(client *redis.Client, channel string, ctx log.Interface) *RedisSource {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSource{
		ctx:     ctx.WithField("Source", "Redis").WithField("Channel", channel),
		client:  client,
		channel: channel,
	}
}

// RedisSource receives commands from Redis
type RedisSource struct {
	ctx     log.Interface
	client  *redis.Client
	channel string
}

// Run receives commands until done is closed
func (s *RedisSource) Run(dispatcher Dispatcher, done <-chan struct{}) error {
	pubsub, err := s.client.Subscribe(s.channel)
	if err != nil {
		return err
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-done:
		case <-stop:
		}
		pubsub.Close()
	}()
	s.ctx.Info("Receiving commands")
	for {
		msg, err := pubsub.ReceiveMessage()
		if err != nil {
			select {
			case <-done:
				return nil
			default:
				return err
			}
		}
		handle(s.ctx, dispatcher, []byte(msg.Payload))
	}
}
