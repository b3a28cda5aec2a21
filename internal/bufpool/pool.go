// Package bufpool recycles fixed-size datagram buffers so the send and
// receive hot paths do not allocate per frame.
package bufpool

import "sync"

// Pool hands out buffers of exactly one size.
type Pool struct {
	size int
	pool sync.Pool
}

// New returns a pool of buffers that are always size bytes long.
func New(size int) *Pool {
	if size <= 0 {
		panic("bufpool: size must be positive")
	}
	p := &Pool{size: size}
	p.pool.New = func() any {
		return make([]byte, size)
	}
	return p
}

// Get returns a buffer of the pool's size.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < p.size {
		return make([]byte, p.size)
	}
	return buf[:p.size]
}

// Put recycles a buffer previously returned by Get. Undersized buffers are
// dropped rather than poisoning the pool.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	p.pool.Put(buf[:cap(buf)])
}

// Size reports the buffer size this pool serves.
func (p *Pool) Size() int { return p.size }
