package misc

import (
	"bytes"
	"sync"
)

// Resetter is implemented by values that can be cleared for reuse.
type Resetter interface {
	Reset()
}

// Pool is a typed sync.Pool that resets values on Put.
type Pool[T Resetter] struct {
	p    sync.Pool
	keep func(T) bool
}

// NewPool creates a Pool whose empty slots are filled by newFn.
func NewPool[T Resetter](newFn func() T) *Pool[T] {
	pl := &Pool[T]{}
	pl.p.New = func() any {
		if newFn != nil {
			return newFn()
		}
		var zero T
		return zero
	}
	return pl
}

// NewBufferPool pools response buffers, dropping ones that grew past maxCap
// so one oversized body does not pin memory.
func NewBufferPool(maxCap int) *Pool[*bytes.Buffer] {
	pl := NewPool(func() *bytes.Buffer { return new(bytes.Buffer) })
	if maxCap > 0 {
		pl.keep = func(b *bytes.Buffer) bool { return b.Cap() <= maxCap }
	}
	return pl
}

// Get retrieves an object from the pool.
func (pl *Pool[T]) Get() T {
	obj := pl.p.Get()
	if value, ok := obj.(T); ok {
		return value
	}
	var zero T
	return zero
}

// Put resets v and returns it to the pool.
func (pl *Pool[T]) Put(v T) {
	v.Reset()
	if pl.keep != nil && !pl.keep(v) {
		return
	}
	pl.p.Put(v)
}
