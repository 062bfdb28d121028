// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package session

import (
	"errors"
	"fmt"
)

// Kind of a session error
type Kind int

// Error kinds
const (
	// ConnectError is a transport or handshake failure. It is shown to the user.
	ConnectError Kind = iota + 1
	// DisconnectError is a teardown failure. It is logged and otherwise ignored.
	DisconnectError
	// IOError is a publish, subscribe, unsubscribe or ping failure. It is logged.
	IOError
	// PreconditionError is an operation in the wrong state or while offline. It is a no-op.
	PreconditionError
	// UninitializedError is a reconnect before any successful connect. It is a no-op.
	UninitializedError
)

func (k Kind) String() string {
	switch k {
	case ConnectError:
		return "connect error"
	case DisconnectError:
		return "disconnect error"
	case IOError:
		return "i/o error"
	case PreconditionError:
		return "precondition error"
	case UninitializedError:
		return "uninitialized error"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error of a session operation
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Causes of session errors
var (
	ErrNotConnected     = errors.New("session is not connected")
	ErrNotDisconnected  = errors.New("session is not disconnected")
	ErrAlreadyConnected = errors.New("session is already connected")
	ErrOffline          = errors.New("network is unreachable")
	ErrNotInitialized   = errors.New("can not reconnect before initial connection")
	ErrStale            = errors.New("event belongs to a previous connection")
)

// IsKind returns true if err is a session Error of the given kind
func IsKind(err error, kind Kind) bool {
	var sessionErr *Error
	return errors.As(err, &sessionErr) && sessionErr.Kind == kind
}

func precondition(op string, err error) error {
	return &Error{Kind: PreconditionError, Op: op, Err: err}
}
