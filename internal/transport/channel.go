// Package transport provides the unreliable datagram channel the protocol
// runs over: UDP multicast in production, an in-memory pair in tests.
package transport

import (
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("transport: channel closed")

// Channel is one unreliable, unordered datagram hop. Datagrams may be lost,
// duplicated, or reordered in flight; the protocol above must cope.
type Channel interface {
	// Send transmits one datagram. An error is fatal for the sending loop.
	Send(datagram []byte) error
	// Receive blocks up to timeout for one datagram. It returns (nil, nil)
	// when the timeout elapses with nothing received; any error is fatal
	// for the receiving loop.
	Receive(timeout time.Duration) ([]byte, error)
	// Close releases the channel.
	Close() error
}
