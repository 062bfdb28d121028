// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package connectivity watches network reachability and reports when it is
// lost.
package connectivity

import (
	"sync"
	"time"

	"github.com/apex/log"
)

// DefaultInterval is the default time between two probes
var DefaultInterval = time.Second

// New returns a new Monitor for the given probe
func New(probe Reachability, interval time.Duration, ctx log.Interface) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		ctx:      ctx.WithField("Component", "Connectivity"),
		probe:    probe,
		interval: interval,
	}
}

// Monitor polls a Reachability while registered and calls back the first
// time the network is observed to be unreachable
type Monitor struct {
	ctx      log.Interface
	probe    Reachability
	interval time.Duration

	mu   sync.Mutex
	done chan struct{} // non-nil while registered

	cacheMu  sync.Mutex
	maxAge   time.Duration
	online   bool
	probedAt time.Time
	now      func() time.Time
}

// CacheFor makes Online reuse a probe result for up to maxAge. A maxAge of 0
// disables the cache.
func (m *Monitor) CacheFor(maxAge time.Duration) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	m.maxAge = maxAge
	m.probedAt = time.Time{}
}

// Online returns the current reachability
func (m *Monitor) Online() bool {
	m.cacheMu.Lock()
	if m.maxAge > 0 && !m.probedAt.IsZero() && m.clock().Sub(m.probedAt) < m.maxAge {
		online := m.online
		m.cacheMu.Unlock()
		return online
	}
	m.cacheMu.Unlock()
	return m.observe()
}

// observe probes and stores the result
func (m *Monitor) observe() bool {
	online := m.probe.Online()
	m.cacheMu.Lock()
	m.online = online
	m.probedAt = m.clock()
	m.cacheMu.Unlock()
	return online
}

func (m *Monitor) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

// Register starts watching. onLost is called at most once for this
// registration, from the watching goroutine. An existing registration is
// replaced.
func (m *Monitor) Register(onLost func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		m.ctx.Debug("Replacing existing registration")
		close(m.done)
	}
	done := make(chan struct{})
	m.done = done
	go m.watch(done, onLost)
	m.ctx.Debug("Registered")
}

func (m *Monitor) watch(done chan struct{}, onLost func()) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if m.observe() {
				continue
			}
			m.mu.Lock()
			current := m.done == done
			m.mu.Unlock()
			if !current {
				return
			}
			m.ctx.Info("Lost connectivity")
			onLost()
			return
		}
	}
}

// Unregister stops watching. No effect if not registered.
func (m *Monitor) Unregister() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		return
	}
	close(m.done)
	m.done = nil
	m.ctx.Debug("Unregistered")
}

// Registered returns true if the monitor has an active registration
func (m *Monitor) Registered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}
