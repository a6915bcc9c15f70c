// Package backend defines the remote document store the state store
// synchronizes with. A backend holds exactly one JSON document.
package backend

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("backend closed")

// Notification is one change message for the document. Exists is false when
// no document is stored. Err is set when the subscription failed; no further
// notifications follow an error.
type Notification struct {
	Payload []byte
	Exists  bool
	Err     error
}

// Subscription delivers notifications until closed. The first notification
// carries the document as it was when the subscription was established.
type Subscription interface {
	C() <-chan Notification
	Close() error
}

type Backend interface {
	Read(ctx context.Context) (payload []byte, exists bool, err error)
	Write(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}
