// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package ratelimit limits how often a topic can be published to or
// subscribed to.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	redis "gopkg.in/redis.v5"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/go-utils/rate"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/middleware"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
)

// Limits per minute
type Limits struct {
	Publish   int
	Subscribe int
}

// NewRateLimit returns a middleware that rate-limits publish and subscribe commands per topic
func NewRateLimit(conf Limits) *RateLimit {
	return &RateLimit{
		log:    log.Get(),
		limits: conf,
		topics: make(map[string]*limits),
	}
}

// NewRedisRateLimit returns a middleware that rate-limits publish and subscribe commands per topic.
// The counters are kept in Redis, so they are shared by all agents that use the same Redis.
func NewRedisRateLimit(client *redis.Client, conf Limits) *RateLimit {
	l := NewRateLimit(conf)
	l.client = client
	return l
}

// RateLimit publish and subscribe commands per topic
type RateLimit struct {
	log    log.Interface
	limits Limits
	client *redis.Client

	mu     sync.RWMutex
	topics map[string]*limits
}

func (l *RateLimit) newLimiter(topic, action string, perMinute int) rate.Limiter {
	var counter rate.Counter
	if l.client != nil {
		counter = rate.NewRedisCounter(l.client, fmt.Sprintf("ratelimit:%s:%s", topic, action), time.Second, time.Minute)
	} else {
		counter = rate.NewCounter(time.Second, time.Minute)
	}
	return rate.NewLimiter(counter, time.Minute, uint64(perMinute))
}

func (l *RateLimit) newLimits(topic string) *limits {
	limits := new(limits)
	if l.limits.Publish != 0 {
		limits.publish = l.newLimiter(topic, "publish", l.limits.Publish)
	}
	if l.limits.Subscribe != 0 {
		limits.subscribe = l.newLimiter(topic, "subscribe", l.limits.Subscribe)
	}
	return limits
}

type limits struct {
	publish   rate.Limiter
	subscribe rate.Limiter
}

func (l *RateLimit) get(topic string) *limits {
	l.mu.RLock()
	limits, ok := l.topics[topic]
	l.mu.RUnlock()
	if ok {
		return limits
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if limits, ok := l.topics[topic]; ok {
		return limits
	}
	limits = l.newLimits(topic)
	l.topics[topic] = limits
	return limits
}

// HandleStop forgets the in-memory limiters of the session
func (l *RateLimit) HandleStop(ctx middleware.Context, cmd *types.Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.topics = make(map[string]*limits)
	return nil
}

// ErrRateLimited is returned if the rate limit has been reached
var ErrRateLimited = errors.New("rate limit reached")

func (l *RateLimit) check(limiter rate.Limiter, cmd *types.Command) error {
	if limiter == nil {
		return nil
	}
	limit, err := limiter.Limit()
	if err != nil {
		return err
	}
	if limit {
		l.log.WithField("Topic", cmd.Topic).Debugf("Rate limited %s", cmd.Action)
		return ErrRateLimited
	}
	return nil
}

// HandlePublish rate-limits publish commands
func (l *RateLimit) HandlePublish(ctx middleware.Context, cmd *types.Command) error {
	return l.check(l.get(cmd.Topic).publish, cmd)
}

// HandleSubscribe rate-limits subscribe commands
func (l *RateLimit) HandleSubscribe(ctx middleware.Context, cmd *types.Command) error {
	return l.check(l.get(cmd.Topic).subscribe, cmd)
}
