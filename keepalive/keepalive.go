// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package keepalive schedules periodic keepalive actions for a session.
package keepalive

import (
	"sync"
	"time"

	"github.com/apex/log"
)

// New returns a new Scheduler without an active timer
func New(ctx log.Interface) *Scheduler {
	return &Scheduler{
		ctx: ctx.WithField("Component", "KeepAlive"),
	}
}

// Scheduler runs a callback every interval until stopped. There is at most
// one active timer per Scheduler.
type Scheduler struct {
	ctx log.Interface

	mu         sync.Mutex
	timer      *time.Timer
	interval   time.Duration
	generation uint64
}

// Start schedules onFire to run every interval, the first time after one
// interval. A timer that is already active is cancelled first.
func (s *Scheduler) Start(interval time.Duration, onFire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.ctx.Debug("Restarting active keepalive timer")
		s.stop()
	}
	s.generation++
	generation := s.generation
	s.interval = interval
	s.timer = time.AfterFunc(interval, func() {
		s.fire(generation, onFire)
	})
	s.ctx.WithField("Interval", interval).Debug("Started keepalive timer")
}

func (s *Scheduler) fire(generation uint64, onFire func()) {
	s.mu.Lock()
	if s.timer == nil || generation != s.generation {
		s.mu.Unlock()
		return // stopped or restarted in the meantime
	}
	s.timer.Reset(s.interval)
	s.mu.Unlock()
	onFire()
}

// Stop cancels the active timer. No effect if no timer is active.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return
	}
	s.stop()
	s.ctx.Debug("Stopped keepalive timer")
}

func (s *Scheduler) stop() {
	s.timer.Stop()
	s.timer = nil
	s.generation++
}

// Active returns true if a timer is active
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
