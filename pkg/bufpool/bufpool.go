// Package bufpool recycles byte buffers for the datagram transport.
//
// Every datagram is read into a buffer sized for the largest possible UDP
// payload, handed to a worker, and returned once the worker has decoded it.
// Reusing those buffers keeps a busy receive loop from allocating 64 KiB per
// packet.
//
// Buffers are grouped in size classes. A request is served by the smallest
// class that fits; requests above the largest class are allocated directly
// and never pooled.
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
package bufpool

import (
	"slices"
	"sync"
)

// Default size classes.
const (
	// DefaultSmallSize fits acknowledgements and short commands.
	DefaultSmallSize = 4 << 10

	// DefaultDatagramSize fits any UDP payload (65507 bytes over IPv4).
	DefaultDatagramSize = 64 << 10
)

type class struct {
	size int
	pool sync.Pool
}

// Pool is a set of size-classed buffer pools. Safe for concurrent use.
type Pool struct {
	classes []*class
}

// NewPool creates a pool with the given size classes. With no sizes the
// default classes are used. Non-positive and duplicate sizes are ignored.
func NewPool(sizes ...int) *Pool {
	if len(sizes) == 0 {
		sizes = []int{DefaultSmallSize, DefaultDatagramSize}
	}

	sorted := make([]int, 0, len(sizes))
	for _, s := range sizes {
		if s > 0 {
			sorted = append(sorted, s)
		}
	}
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	p := &Pool{classes: make([]*class, len(sorted))}
	for i, size := range sorted {
		c := &class{size: size}
		c.pool.New = func() any {
			buf := make([]byte, c.size)
			return &buf
		}
		p.classes[i] = c
	}
	return p
}

// Sizes returns the size classes in ascending order.
func (p *Pool) Sizes() []int {
	out := make([]int, len(p.classes))
	for i, c := range p.classes {
		out[i] = c.size
	}
	return out
}

// Get returns a buffer of length size. Its capacity is the size of the class
// that served it. Return it with Put when done.
func (p *Pool) Get(size int) []byte {
	for _, c := range p.classes {
		if size <= c.size {
			buf := *c.pool.Get().(*[]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to its class. Buffers whose capacity matches no class are
// left to the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	for _, c := range p.classes {
		if cap(buf) == c.size {
			full := buf[:c.size]
			c.pool.Put(&full)
			return
		}
	}
}

var global = NewPool()

// Get returns a buffer of length size from the package pool.
func Get(size int) []byte {
	return global.Get(size)
}

// Put returns buf to the package pool.
func Put(buf []byte) {
	global.Put(buf)
}
