package portman

import (
	"encoding/json"
	"sync"

	"github.com/qapish/labman/internal/core/domain"
	"github.com/qapish/labman/internal/core/ports"
)

// StreamKind selects what an observer receives: every envelope, or only
// those whose kind matches its filter.
type StreamKind string

const (
	StreamAll    StreamKind = "all"
	StreamByKind StreamKind = "by_kind"
)

// ParseStreamKind maps the wire string onto a StreamKind.
func ParseStreamKind(s string) (StreamKind, bool) {
	switch StreamKind(s) {
	case StreamAll:
		return StreamAll, true
	case StreamByKind:
		return StreamByKind, true
	default:
		return "", false
	}
}

// ObserverState is one observer's subscription. With by_kind and an empty
// filter the observer receives nothing from that stream.
type ObserverState struct {
	SubscribedKinds map[StreamKind]struct{}
	KindsFilter     map[string]struct{}
}

func (s ObserverState) matches(kind MessageKind) bool {
	if _, all := s.SubscribedKinds[StreamAll]; all {
		return true
	}
	if _, byKind := s.SubscribedKinds[StreamByKind]; byKind {
		_, ok := s.KindsFilter[kind.String()]
		return ok
	}
	return false
}

// observerSendBuffer bounds each observer's outbound queue. A full queue
// drops the frame (recorded as observer_send_drop) rather than slowing the
// agent that produced it.
const observerSendBuffer = 256

type observerEntry struct {
	state  ObserverState
	outbox chan []byte
	done   chan struct{}
}

// Observers is the registry of connected /observe clients and their
// outbound queues. Broadcasters only touch channels, never sockets.
type Observers struct {
	mu      sync.RWMutex
	nextID  uint64
	entries map[uint64]*observerEntry

	metrics ports.MetricsRecorder
}

func NewObservers(metrics ports.MetricsRecorder) *Observers {
	return &Observers{
		entries: make(map[uint64]*observerEntry),
		metrics: metrics,
	}
}

// Add registers a new observer with an empty subscription. The returned
// outbox feeds the connection's sender task; done closes when the observer
// is removed.
func (o *Observers) Add() (id uint64, outbox <-chan []byte, done <-chan struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextID++
	entry := &observerEntry{
		state:  ObserverState{},
		outbox: make(chan []byte, observerSendBuffer),
		done:   make(chan struct{}),
	}
	o.entries[o.nextID] = entry
	return o.nextID, entry.outbox, entry.done
}

// SetSubscription atomically replaces an observer's subscription.
func (o *Observers) SetSubscription(id uint64, kinds []StreamKind, kindsFilter []string) {
	state := ObserverState{
		SubscribedKinds: make(map[StreamKind]struct{}, len(kinds)),
	}
	for _, k := range kinds {
		state.SubscribedKinds[k] = struct{}{}
	}
	if kindsFilter != nil {
		state.KindsFilter = make(map[string]struct{}, len(kindsFilter))
		for _, k := range kindsFilter {
			state.KindsFilter[k] = struct{}{}
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.entries[id]; ok {
		entry.state = state
	}
}

// Remove deregisters an observer and releases its sender task. The outbox is
// never closed: a concurrent broadcast may still hold a reference, and an
// orphaned channel is simply collected.
func (o *Observers) Remove(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if entry, ok := o.entries[id]; ok {
		close(entry.done)
		delete(o.entries, id)
	}
}

// Len returns the number of connected observers.
func (o *Observers) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.entries)
}

// Send enqueues a frame for one observer, dropping on a full outbox.
func (o *Observers) Send(id uint64, payload []byte) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	entry, ok := o.entries[id]
	if !ok {
		return false
	}
	select {
	case entry.outbox <- payload:
		return true
	default:
		o.metrics.RecordError("portman", string(domain.ErrKindObserverSendDrop))
		return false
	}
}

// Broadcast fans an envelope out to every observer whose subscription
// matches. Delivery is best effort per observer: a full outbox drops the
// frame and is counted, so slow observers never slow agents. Frames enqueue
// FIFO per observer.
func (o *Observers) Broadcast(env *Envelope) (delivered int) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if len(o.entries) == 0 {
		return 0
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return 0
	}

	for _, entry := range o.entries {
		if !entry.state.matches(env.Kind) {
			continue
		}
		select {
		case entry.outbox <- payload:
			delivered++
		default:
			o.metrics.RecordError("portman", string(domain.ErrKindObserverSendDrop))
		}
	}
	return delivered
}
