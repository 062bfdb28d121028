// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package command

import (
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/apex/log"
	"github.com/streadway/amqp"
)

// CommandRoutingKeyFormat is the routing key commands for a device are published with
var CommandRoutingKeyFormat = "%s.command"

// AMQPConfig contains configuration for the AMQP command source
type AMQPConfig struct {
	Address      string
	Username     string
	Password     string
	VHost        string
	ExchangeName string
	TLSConfig    *tls.Config
}

func (c AMQPConfig) url() (url string) {
	if c.TLSConfig != nil {
		url += "amqps://"
	} else {
		url += "amqp://"
	}
	if c.Username != "" {
		url += c.Username
		if c.Password != "" {
			url += ":" + c.Password
		}
		url += "@"
	}
	url += c.Address
	if c.VHost != "" {
		url += "/" + c.VHost
	}
	return
}

// NewAMQPSource returns a command source that consumes the commands for
// deviceID from a topic exchange
func NewAMQPSource(config AMQPConfig, deviceID string, ctx log.Interface) *AMQPSource {
	if config.ExchangeName == "" {
		config.ExchangeName = "amq.topic"
	}
	routingKey := fmt.Sprintf(CommandRoutingKeyFormat, deviceID)
	return &AMQPSource{
		ctx:        ctx.WithField("Source", "AMQP").WithField("RoutingKey", routingKey),
		config:     config,
		routingKey: routingKey,
	}
}

// AMQPSource receives commands from AMQP
type AMQPSource struct {
	ctx        log.Interface
	config     AMQPConfig
	routingKey string
}

func (s *AMQPSource) dial() (*amqp.Connection, error) {
	if s.config.TLSConfig != nil {
		return amqp.DialTLS(s.config.url(), s.config.TLSConfig)
	}
	return amqp.Dial(s.config.url())
}

func (s *AMQPSource) setup(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclarePassive(s.config.ExchangeName, "topic", true, false, false, false, nil); err != nil {
		s.ctx.WithError(err).Warnf("Exchange %s does not exist, trying to create...", s.config.ExchangeName)
		ch, err := conn.Channel()
		if err != nil {
			return err
		}
		defer ch.Close()
		return ch.ExchangeDeclare(s.config.ExchangeName, "topic", true, false, false, false, nil)
	}
	return nil
}

// Run receives commands until done is closed or the connection is lost
func (s *AMQPSource) Run(dispatcher Dispatcher, done <-chan struct{}) error {
	conn, err := s.dial()
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := s.setup(conn); err != nil {
		return err
	}

	channel, err := conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	queue, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := channel.QueueBind(queue.Name, s.routingKey, s.config.ExchangeName, false, nil); err != nil {
		return err
	}
	if err := channel.Qos(1, 0, false); err != nil {
		return err
	}
	deliveries, err := channel.Consume(queue.Name, "", false, true, false, false, nil)
	if err != nil {
		return err
	}

	closed := make(chan *amqp.Error, 1)
	channel.NotifyClose(closed)

	s.ctx.Info("Receiving commands")
	for {
		select {
		case <-done:
			return nil
		case amqpErr, hasErr := <-closed:
			if hasErr {
				return errors.New(amqpErr.Error())
			}
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			handle(s.ctx, dispatcher, msg.Body)
			msg.Ack(false)
		}
	}
}
