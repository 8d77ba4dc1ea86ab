package eventbus

// EventBus is a small lock-free pub/sub used to decouple producers (proxy
// request lifecycle) from consumers (status aggregation). Publishing never
// blocks: a subscriber whose buffer is full has the event dropped and
// counted against it.

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

const DefaultBufferSize = 256

type EventBus[T any] struct {
	subscribers   *xsync.Map[string, *subscriber[T]]
	subscriberSeq atomic.Uint64
	bufferSize    int
	isShutdown    atomic.Bool
}

type subscriber[T any] struct {
	ch       chan T
	id       string
	dropped  atomic.Uint64
	isActive atomic.Bool
}

// New creates an EventBus with the default per-subscriber buffer.
func New[T any]() *EventBus[T] {
	return NewWithBuffer[T](DefaultBufferSize)
}

// NewWithBuffer creates an EventBus with a custom per-subscriber buffer size.
func NewWithBuffer[T any](bufferSize int) *EventBus[T] {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &EventBus[T]{
		subscribers: xsync.NewMap[string, *subscriber[T]](),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel receiving published events and a cleanup
// function. The subscription also ends when ctx is cancelled. Events are
// delivered FIFO per subscriber.
func (eb *EventBus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	if eb.isShutdown.Load() {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := "sub_" + strconv.FormatUint(eb.subscriberSeq.Add(1), 10)
	sub := &subscriber[T]{
		id: id,
		ch: make(chan T, eb.bufferSize),
	}
	sub.isActive.Store(true)
	eb.subscribers.Store(id, sub)

	go func() {
		<-ctx.Done()
		eb.unsubscribe(id)
	}()

	return sub.ch, func() { eb.unsubscribe(id) }
}

// Publish delivers an event to every active subscriber without blocking.
// Returns the number of subscribers that received it; full buffers count as
// drops on that subscriber.
func (eb *EventBus[T]) Publish(event T) int {
	if eb.isShutdown.Load() {
		return 0
	}

	delivered := 0
	eb.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		if !sub.isActive.Load() {
			return true
		}
		select {
		case sub.ch <- event:
			delivered++
		default:
			sub.dropped.Add(1)
		}
		return true
	})
	return delivered
}

// Shutdown stops the bus. Subscriber channels are not closed (a concurrent
// Publish must never hit a closed channel); they become idle and are
// collected once subscribers stop referencing them.
func (eb *EventBus[T]) Shutdown() {
	if !eb.isShutdown.CompareAndSwap(false, true) {
		return
	}
	eb.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		sub.isActive.Store(false)
		return true
	})
	eb.subscribers.Clear()
}

// Stats reports subscriber counts and total dropped events.
func (eb *EventBus[T]) Stats() Stats {
	stats := Stats{IsShutdown: eb.isShutdown.Load()}
	if stats.IsShutdown {
		return stats
	}
	eb.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		stats.Subscribers++
		stats.TotalDropped += sub.dropped.Load()
		return true
	})
	return stats
}

// Stats is an aggregate view of the bus.
type Stats struct {
	Subscribers  int
	TotalDropped uint64
	IsShutdown   bool
}

func (eb *EventBus[T]) unsubscribe(id string) {
	if sub, exists := eb.subscribers.Load(id); exists {
		sub.isActive.Store(false)
		eb.subscribers.Delete(id)
	}
}
