// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TheThingsNetwork/mqtt-telemetry-agent/backend"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/worker"
	"github.com/apex/log"
	"github.com/deckarep/golang-set"
	"github.com/google/uuid"
)

// Scheduler fires keepalives while a session is connected
type Scheduler interface {
	Start(interval time.Duration, onFire func())
	Stop()
}

// Monitor reports network reachability and calls onLost when it goes away
type Monitor interface {
	Online() bool
	Register(onLost func())
	Unregister()
}

// Notifier shows a notice to the user. Implementations must not block.
type Notifier interface {
	Notify(notice string)
}

// NotifierFunc is a func that implements Notifier
type NotifierFunc func(notice string)

// Notify implements Notifier
func (f NotifierFunc) Notify(notice string) { f(notice) }

type logNotifier struct {
	ctx log.Interface
}

func (n logNotifier) Notify(notice string) {
	n.ctx.Error(notice)
}

// Config for a Session
type Config struct {
	DeviceID       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	QueueSize      int
}

// DefaultConfig returns the default Session config
func DefaultConfig() Config {
	return Config{
		KeepAlive:      5 * time.Second,
		ConnectTimeout: 5 * time.Second,
		QueueSize:      256,
	}
}

// Session is the connection lifecycle of one device to a broker.
//
// All operations and client events are queued and handled one at a time, in
// order, by a single worker. The fields below mu are only written from that
// worker.
type Session struct {
	ctx       log.Interface
	config    Config
	client    backend.Client
	scheduler Scheduler
	monitor   Monitor
	worker    *worker.Queue

	handlerLock sync.RWMutex
	notifier    Notifier
	onMessage   func(types.Message)

	topics mapset.Set

	mu             sync.RWMutex
	state          types.State
	target         types.ConnectParams
	lastParams     *types.ConnectParams
	epoch          uint64
	sessionID      string
	connectedSince time.Time
}

// New returns a new Session. The session registers itself as the events
// handler of the client.
func New(config Config, client backend.Client, scheduler Scheduler, monitor Monitor, ctx log.Interface) *Session {
	ctx = ctx.WithField("Component", "Session")
	if config.DeviceID != "" {
		ctx = ctx.WithField("DeviceID", config.DeviceID)
	}
	s := &Session{
		ctx:       ctx,
		config:    config,
		client:    client,
		scheduler: scheduler,
		monitor:   monitor,
		worker:    worker.New(config.QueueSize, ctx),
		notifier:  logNotifier{ctx},
		topics:    mapset.NewSet(),
	}
	client.SetEvents(s)
	stateGauge.Set(float64(types.Disconnected))
	return s
}

// SetNotifier sets the Notifier that is used for user-facing notices
func (s *Session) SetNotifier(notifier Notifier) {
	s.handlerLock.Lock()
	defer s.handlerLock.Unlock()
	s.notifier = notifier
}

// SetMessageHandler sets the func that is called for every incoming message
func (s *Session) SetMessageHandler(handler func(types.Message)) {
	s.handlerLock.Lock()
	defer s.handlerLock.Unlock()
	s.onMessage = handler
}

func (s *Session) notify(notice string) {
	s.handlerLock.RLock()
	notifier := s.notifier
	s.handlerLock.RUnlock()
	if notifier != nil {
		notifier.Notify(notice)
	}
}

// Start handling operations
func (s *Session) Start() {
	s.worker.Start()
}

// Sync blocks until every operation queued before it has been handled
func (s *Session) Sync() {
	s.worker.Barrier()
}

// Stop disconnects the session and stops handling operations
func (s *Session) Stop() {
	s.worker.Start()
	s.Disconnect()
	s.worker.Barrier()
	s.worker.Stop()
	s.scheduler.Stop()
	s.monitor.Unregister()
}

// State returns the current state
func (s *Session) State() types.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns a snapshot of the session
func (s *Session) Status() types.Status {
	s.mu.RLock()
	status := types.Status{
		State:          s.state,
		DeviceID:       s.config.DeviceID,
		SessionID:      s.sessionID,
		ConnectedSince: s.connectedSince,
	}
	if s.state != types.Disconnected {
		status.Host, status.Port = s.target.Host, s.target.Port
	}
	s.mu.RUnlock()
	for _, topic := range s.topics.ToSlice() {
		status.Topics = append(status.Topics, topic.(string))
	}
	sort.Strings(status.Topics)
	return status
}

func (s *Session) setState(state types.State) {
	s.mu.Lock()
	s.state = state
	if state == types.Disconnected {
		s.sessionID = ""
		s.connectedSince = time.Time{}
	}
	s.mu.Unlock()
	stateGauge.Set(float64(state))
}

// enqueue queues traffic, which is dropped when the queue is full
func (s *Session) enqueue(op string, fn func() error) {
	s.worker.Submit(op, s.task(op, fn))
}

// control queues a lifecycle operation or event, which is never dropped for
// capacity
func (s *Session) control(op string, fn func() error) {
	s.worker.Push(op, s.task(op, fn))
}

func (s *Session) task(op string, fn func() error) func() {
	return func() {
		err := fn()
		operationCounter.WithLabelValues(op, result(err)).Inc()
		if err != nil {
			s.report(err)
		}
	}
}

func (s *Session) report(err error) {
	sessionErr, ok := err.(*Error)
	if !ok {
		s.ctx.WithError(err).Warn("Operation failed")
		return
	}
	ctx := s.ctx.WithField("Operation", sessionErr.Op).WithError(sessionErr.Err)
	switch sessionErr.Kind {
	case PreconditionError:
		ctx.Debug("Ignoring operation")
	case UninitializedError:
		ctx.Info("Ignoring operation")
	case ConnectError:
		ctx.Warn("Could not connect")
	case DisconnectError:
		ctx.Warn("Could not disconnect cleanly")
	default:
		ctx.Warn("Operation failed")
	}
}

// Connect to the broker at host:port. It is a no-op unless the session is
// disconnected and the network is reachable.
func (s *Session) Connect(host string, port int) {
	params := types.ConnectParams{Host: host, Port: port}
	s.control("connect", func() error { return s.connect(params) })
}

// Disconnect from the broker. It is a no-op unless the session is connected
// or connecting.
func (s *Session) Disconnect() {
	s.control("disconnect", s.disconnect)
}

// Publish a payload on a topic
func (s *Session) Publish(topic string, payload []byte) {
	s.enqueue("publish", func() error { return s.publish(topic, payload) })
}

// Subscribe to a topic
func (s *Session) Subscribe(topic string) {
	s.enqueue("subscribe", func() error { return s.subscribe(topic) })
}

// Unsubscribe from a topic
func (s *Session) Unsubscribe(topic string) {
	s.enqueue("unsubscribe", func() error { return s.unsubscribe(topic) })
}

// Ping sends a keepalive. This is normally done by the keepalive scheduler.
func (s *Session) Ping() {
	s.enqueue("ping", s.ping)
}

// Reconnect with the parameters of the last successful connect
func (s *Session) Reconnect() {
	s.control("reconnect", s.reconnect)
}

// ConnectAck implements backend.Events
func (s *Session) ConnectAck(status types.ConnectStatus) {
	s.enqueue("connect-ack", func() error {
		if status != types.ConnectAccepted {
			s.ctx.WithField("Status", status).Warn("Broker refused connection")
			return nil
		}
		s.ctx.Debug("Broker accepted connection")
		return nil
	})
}

// Disconnected implements backend.Events. The event is ignored if the client
// is connected again by the time it is handled.
func (s *Session) Disconnected() {
	s.control("connection-lost", s.connectionLost)
}

// MessageArrived implements backend.Events
func (s *Session) MessageArrived(topic string, payload []byte) {
	msg := types.Message{Topic: topic, Payload: payload}
	s.enqueue("message", func() error {
		s.ctx.WithField("Topic", msg.Topic).WithField("Size", len(msg.Payload)).Info("Received message")
		s.handlerLock.RLock()
		handler := s.onMessage
		s.handlerLock.RUnlock()
		if handler != nil {
			handler(msg)
		}
		return nil
	})
}

func (s *Session) connect(params types.ConnectParams) error {
	if s.state != types.Disconnected {
		return precondition("connect", ErrNotDisconnected)
	}
	if !s.monitor.Online() {
		return precondition("connect", ErrOffline)
	}

	ctx := s.ctx.WithField("Host", params.Host).WithField("Port", params.Port)
	s.mu.Lock()
	s.target = params
	s.mu.Unlock()
	s.setState(types.Connecting)
	ctx.Info("Connecting")

	if err := s.client.Connect(params.Host, params.Port, s.config.ConnectTimeout, s.config.KeepAlive); err != nil {
		s.setState(types.Disconnected)
		s.notify(fmt.Sprintf("Failed to connect to %s", params))
		return &Error{Kind: ConnectError, Op: "connect", Err: err}
	}

	s.epoch++
	epoch := s.epoch
	sessionID := uuid.New().String()

	s.scheduler.Start(s.config.KeepAlive, func() {
		s.enqueue("keepalive", func() error { return s.keepAlive(epoch) })
	})
	s.monitor.Register(func() {
		s.control("connectivity-lost", func() error { return s.connectivityLost(epoch) })
	})

	s.mu.Lock()
	s.lastParams = &params
	s.sessionID = sessionID
	s.connectedSince = time.Now()
	s.mu.Unlock()
	s.setState(types.Connected)
	ctx.WithField("SessionID", sessionID).Info("Connected")
	return nil
}

func (s *Session) teardown() {
	s.scheduler.Stop()
	s.monitor.Unregister()
	s.topics.Clear()
}

func (s *Session) disconnect() error {
	if s.state != types.Connected && s.state != types.Connecting {
		return precondition("disconnect", ErrNotConnected)
	}
	s.setState(types.Disconnecting)
	s.teardown()
	err := s.client.Disconnect()
	s.setState(types.Disconnected)
	s.ctx.Info("Disconnected")
	if err != nil {
		return &Error{Kind: DisconnectError, Op: "disconnect", Err: err}
	}
	return nil
}

func (s *Session) connectivityLost(epoch uint64) error {
	if s.state != types.Connected {
		return precondition("connectivity-lost", ErrNotConnected)
	}
	if epoch != s.epoch {
		return precondition("connectivity-lost", ErrStale)
	}
	s.ctx.Warn("Lost connectivity, disconnecting")
	return s.disconnect()
}

func (s *Session) connectionLost() error {
	if s.state == types.Disconnected {
		return precondition("connection-lost", ErrNotConnected)
	}
	if s.client.IsConnected() {
		return precondition("connection-lost", ErrStale)
	}
	s.ctx.Warn("Lost connection to broker")
	s.teardown()
	s.setState(types.Disconnected)
	return nil
}

func (s *Session) ready(op string) error {
	if s.state != types.Connected {
		return precondition(op, ErrNotConnected)
	}
	if !s.monitor.Online() {
		return precondition(op, ErrOffline)
	}
	return nil
}

func (s *Session) publish(topic string, payload []byte) error {
	if err := s.ready("publish"); err != nil {
		return err
	}
	if err := s.client.Publish(topic, payload); err != nil {
		return &Error{Kind: IOError, Op: "publish", Err: err}
	}
	s.ctx.WithField("Topic", topic).Debug("Published message")
	return nil
}

func (s *Session) subscribe(topic string) error {
	if err := s.ready("subscribe"); err != nil {
		return err
	}
	if err := s.client.Subscribe(topic); err != nil {
		return &Error{Kind: IOError, Op: "subscribe", Err: err}
	}
	s.topics.Add(topic)
	s.ctx.WithField("Topic", topic).Info("Subscribed")
	return nil
}

func (s *Session) unsubscribe(topic string) error {
	if err := s.ready("unsubscribe"); err != nil {
		return err
	}
	if err := s.client.Unsubscribe(topic); err != nil {
		return &Error{Kind: IOError, Op: "unsubscribe", Err: err}
	}
	s.topics.Remove(topic)
	s.ctx.WithField("Topic", topic).Info("Unsubscribed")
	return nil
}

func (s *Session) ping() error {
	if err := s.ready("ping"); err != nil {
		return err
	}
	if err := s.client.Ping(); err != nil {
		return &Error{Kind: IOError, Op: "ping", Err: err}
	}
	return nil
}

func (s *Session) keepAlive(epoch uint64) error {
	if s.state == types.Connected && epoch != s.epoch {
		return precondition("keepalive", ErrStale)
	}
	return s.ping()
}

func (s *Session) reconnect() error {
	if s.state == types.Connected {
		return precondition("reconnect", ErrAlreadyConnected)
	}
	if s.lastParams == nil {
		return &Error{Kind: UninitializedError, Op: "reconnect", Err: ErrNotInitialized}
	}
	return s.connect(*s.lastParams)
}
