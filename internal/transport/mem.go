package transport

import (
	"sync"
	"time"
)

// MemChannel is an in-memory Channel for tests. Sends deliver into the peer's
// inbox; a loopback channel delivers into its own. A full inbox drops the
// datagram, mirroring how a saturated socket buffer loses UDP traffic.
type MemChannel struct {
	mu     sync.Mutex
	inbox  chan []byte
	peer   *MemChannel
	done   chan struct{}
	closed bool
	drop   func(datagram []byte) bool
}

// NewMemPair returns two linked channels: what one sends, the other receives.
func NewMemPair(buffer int) (*MemChannel, *MemChannel) {
	a := newMemChannel(buffer)
	b := newMemChannel(buffer)
	a.peer = b
	b.peer = a
	return a, b
}

// NewLoopback returns a channel whose sends land in its own inbox. Useful for
// driving a receive loop with hand-crafted datagrams.
func NewLoopback(buffer int) *MemChannel {
	c := newMemChannel(buffer)
	c.peer = c
	return c
}

func newMemChannel(buffer int) *MemChannel {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemChannel{
		inbox: make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

// SetDropFunc installs a fault-injection hook; datagrams for which fn returns
// true are silently lost.
func (c *MemChannel) SetDropFunc(fn func(datagram []byte) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop = fn
}

func (c *MemChannel) Send(datagram []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	drop := c.drop
	peer := c.peer
	c.mu.Unlock()

	if drop != nil && drop(datagram) {
		return nil
	}
	cp := append([]byte(nil), datagram...)
	select {
	case peer.inbox <- cp:
	default:
		// Inbox full: the datagram is lost, exactly like UDP.
	}
	return nil
}

func (c *MemChannel) Receive(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case datagram := <-c.inbox:
		return datagram, nil
	case <-c.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, nil
	}
}

func (c *MemChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

var _ Channel = (*MemChannel)(nil)
