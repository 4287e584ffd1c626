// Package bufpool recycles the byte slices used to frame RPC records.
//
// Buffers come in three size classes. Requests above the largest class are
// allocated directly and never pooled.
//
//	buf := bufpool.Get(n)
//	defer bufpool.Put(buf)
package bufpool

import "sync"

const (
	// SmallSize covers NULL, WHOAMI and most handshake records.
	SmallSize = 4 << 10

	// MediumSize covers table listings.
	MediumSize = 64 << 10

	// LargeSize covers table metadata replies.
	LargeSize = 1 << 20
)

// Pool is a set of size-classed sync.Pools. The zero value is not usable;
// call NewPool.
type Pool struct {
	classes [3]class
}

type class struct {
	size int
	pool sync.Pool
}

// NewPool returns a pool with the given class sizes. Zero sizes take the
// package defaults.
func NewPool(small, medium, large int) *Pool {
	sizes := [3]int{small, medium, large}
	defaults := [3]int{SmallSize, MediumSize, LargeSize}

	p := &Pool{}
	for i := range p.classes {
		size := sizes[i]
		if size <= 0 {
			size = defaults[i]
		}
		p.classes[i].size = size
		p.classes[i].pool.New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return p
}

// Get returns a slice of length size. Its capacity may be larger.
func (p *Pool) Get(size int) []byte {
	for i := range p.classes {
		c := &p.classes[i]
		if size <= c.size {
			buf := *c.pool.Get().(*[]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to its class. Slices whose capacity matches no class are
// left to the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	for i := range p.classes {
		c := &p.classes[i]
		if cap(buf) == c.size {
			full := buf[:c.size]
			c.pool.Put(&full)
			return
		}
	}
}

var defaultPool = NewPool(0, 0, 0)

// Get takes a buffer from the default pool.
func Get(size int) []byte {
	return defaultPool.Get(size)
}

// Put returns a buffer to the default pool.
func Put(buf []byte) {
	defaultPool.Put(buf)
}
