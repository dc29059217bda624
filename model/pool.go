package model

import "distcoord/dcerr"

// Handle is an arena index, the Go stand-in for the source's 32-bit
// record pointers (spec §9: "implement with Vec<T> + u32 indices").
type Handle uint32

// NilHandle marks an absent link (end of a stored/oldStored list, or an
// unset preferred-primary slot).
const NilHandle Handle = 0

// Pool is a fixed-size arena with a free list, matching the source's
// "allocated from fixed-size free lists established at boot; out-of-pool
// is a fatal configuration error, not a runtime failure" (spec §5).
type Pool[T any] struct {
	records []T
	free    []Handle
	cap     int
}

// NewPool allocates a pool that can never grow past capacity.
func NewPool[T any](capacity int) *Pool[T] {
	p := &Pool[T]{
		records: make([]T, capacity+1), // index 0 reserved for NilHandle
		cap:     capacity,
	}
	p.free = make([]Handle, 0, capacity)
	for i := capacity; i >= 1; i-- {
		p.free = append(p.free, Handle(i))
	}
	return p
}

// Alloc hands out a fresh handle. Running out of pool is a configuration
// error (too small a size was configured at boot), not a recoverable
// runtime condition, so it is fatal.
func (p *Pool[T]) Alloc() Handle {
	if len(p.free) == 0 {
		panic(dcerr.Fatal("EXIT_OUT_OF_POOL", "arena exhausted: increase the configured pool size"))
	}
	h := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	var zero T
	p.records[h] = zero
	return h
}

func (p *Pool[T]) Free(h Handle) {
	if h == NilHandle {
		return
	}
	p.free = append(p.free, h)
}

func (p *Pool[T]) Get(h Handle) *T {
	return &p.records[h]
}

func (p *Pool[T]) InUse() int {
	return p.cap - len(p.free)
}

func (p *Pool[T]) Capacity() int {
	return p.cap
}
