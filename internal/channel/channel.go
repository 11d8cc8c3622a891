// Package channel abstracts the persistent bidirectional transport carrying
// invocation requests and responses.
//
// Implementations must deliver frames in send order per connection and
// surface connection loss as ErrClosed. Everything above this interface is
// transport-agnostic.
package channel

import (
	"errors"

	"github.com/louisbranch/reflex/internal/protocol"
)

// ErrClosed indicates the channel connection is gone.
var ErrClosed = errors.New("channel is closed")

// Channel is one end of a bidirectional frame stream.
type Channel interface {
	// Send delivers a frame to the peer, preserving send order.
	Send(frame protocol.Frame) error
	// Receive blocks until the next frame arrives or the channel closes.
	Receive() (protocol.Frame, error)
	// Close tears the connection down. Closing twice is not an error.
	Close() error
}
