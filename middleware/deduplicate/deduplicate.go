// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package deduplicate drops repeated publish commands.
package deduplicate

import (
	"errors"
	"sync"
	"time"

	"github.com/TheThingsNetwork/go-utils/log"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/middleware"
	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
)

// NewDeduplicate returns a middleware that drops a publish command if the
// same message was published on the same topic less than window ago. This
// happens when a command is delivered by more than one command source.
func NewDeduplicate(window time.Duration) *Deduplicate {
	return &Deduplicate{
		log:         log.Get(),
		window:      window,
		now:         time.Now,
		lastMessage: make(map[string]published),
	}
}

type published struct {
	message string
	at      time.Time
}

// Deduplicate middleware
type Deduplicate struct {
	log         log.Interface
	window      time.Duration
	now         func() time.Time
	mu          sync.Mutex
	lastMessage map[string]published
}

// HandleStop cleans up
func (d *Deduplicate) HandleStop(ctx middleware.Context, cmd *types.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastMessage = make(map[string]published)
	return nil
}

// ErrDuplicateMessage is returned when a message is published twice within the window
var ErrDuplicateMessage = errors.New("deduplicate: already handled this message")

// HandlePublish blocks duplicate messages
func (d *Deduplicate) HandlePublish(_ middleware.Context, cmd *types.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if last, ok := d.lastMessage[cmd.Topic]; ok {
		if last.message == cmd.Message && now.Sub(last.at) < d.window {
			d.log.WithField("Topic", cmd.Topic).Debug("Dropping duplicate message")
			return ErrDuplicateMessage
		}
	}
	d.lastMessage[cmd.Topic] = published{message: cmd.Message, at: now}
	return nil
}
