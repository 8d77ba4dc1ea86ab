package pool

// Pool is a strongly typed wrapper around sync.Pool. It eliminates unsafe
// type assertions at call sites; objects returned from Get() are guaranteed
// to be the correct type. If the pooled type implements Resettable it is
// zeroed on Put().
//
// Used for streaming read buffers on the proxy hot path.

import "sync"

type Resettable interface {
	Reset()
}

type Pool[T any] struct {
	pool sync.Pool
	new  func() T
}

func NewLitePool[T any](newFn func() T) *Pool[T] {
	if newFn == nil {
		panic("litepool: constructor must not be nil")
	}
	if any(newFn()) == nil {
		panic("litepool: constructor returned nil")
	}

	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return newFn()
			},
		},
		new: newFn,
	}
}

func (p *Pool[T]) Get() T {
	//nolint:forcetypeassert // safe due to validated New
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(v T) {
	if r, ok := any(v).(Resettable); ok {
		r.Reset()
	}
	p.pool.Put(v)
}
