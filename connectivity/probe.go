// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package connectivity

import (
	"net"
	"sync"
	"time"
)

// Reachability tells if the network is currently reachable
type Reachability interface {
	Online() bool
}

// InterfaceProbe considers the network reachable when at least one
// non-loopback interface is up and has an address
type InterfaceProbe struct{}

// Online implements Reachability
func (InterfaceProbe) Online() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// DialProbe considers the network reachable when a TCP connection to Address
// can be set up within Timeout
type DialProbe struct {
	Address string
	Timeout time.Duration
}

// DefaultDialTimeout is used when a DialProbe has no Timeout
var DefaultDialTimeout = 2 * time.Second

// Online implements Reachability
func (p DialProbe) Online() bool {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}
	conn, err := net.DialTimeout("tcp", p.Address, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// NewManual returns a Manual reachability with the given initial value
func NewManual(online bool) *Manual {
	return &Manual{online: online}
}

// Manual is a Reachability whose value is set by the caller, for hosts that
// are told about network changes instead of probing for them
type Manual struct {
	mu     sync.RWMutex
	online bool
}

// Set the reachability
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = online
}

// Online implements Reachability
func (m *Manual) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}
