package portman

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qapish/labman/internal/adapter/metrics"
)

func heartbeatEnvelope(msgID string) *Envelope {
	return &Envelope{MsgID: msgID, Direction: DirectionUp, Kind: KindHeartbeat}
}

func drain(ch <-chan []byte) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-ch:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestObserverMatching(t *testing.T) {
	tests := []struct {
		name    string
		kinds   []StreamKind
		filter  []string
		kind    MessageKind
		matches bool
	}{
		{"all receives everything", []StreamKind{StreamAll}, nil, KindHeartbeat, true},
		{"all receives unknown", []StreamKind{StreamAll}, nil, KindUnknown, true},
		{"by_kind with matching filter", []StreamKind{StreamByKind}, []string{"heartbeat"}, KindHeartbeat, true},
		{"by_kind with non-matching filter", []StreamKind{StreamByKind}, []string{"metrics"}, KindHeartbeat, false},
		{"by_kind with empty filter receives nothing", []StreamKind{StreamByKind}, []string{}, KindHeartbeat, false},
		{"by_kind with nil filter receives nothing", []StreamKind{StreamByKind}, nil, KindHeartbeat, false},
		{"by_kind filters unknown by literal name", []StreamKind{StreamByKind}, []string{"unknown"}, KindUnknown, true},
		{"no subscription receives nothing", nil, nil, KindHeartbeat, false},
		{"all wins over empty by_kind filter", []StreamKind{StreamAll, StreamByKind}, []string{}, KindHeartbeat, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			observers := NewObservers(metrics.NewNoopRecorder())
			id, outbox, _ := observers.Add()
			observers.SetSubscription(id, tc.kinds, tc.filter)

			delivered := observers.Broadcast(heartbeatEnvelopeOfKind(tc.kind))

			if tc.matches {
				assert.Equal(t, 1, delivered)
				assert.Len(t, drain(outbox), 1)
			} else {
				assert.Zero(t, delivered)
				assert.Empty(t, drain(outbox))
			}
		})
	}
}

func heartbeatEnvelopeOfKind(kind MessageKind) *Envelope {
	return &Envelope{MsgID: "m", Direction: DirectionUp, Kind: kind}
}

func TestBroadcastDeliversExactlyOncePerMatchingObserver(t *testing.T) {
	observers := NewObservers(metrics.NewNoopRecorder())

	allID, allOutbox, _ := observers.Add()
	observers.SetSubscription(allID, []StreamKind{StreamAll}, nil)

	byKindID, byKindOutbox, _ := observers.Add()
	observers.SetSubscription(byKindID, []StreamKind{StreamByKind}, []string{"heartbeat"})

	delivered := observers.Broadcast(heartbeatEnvelope("m-1"))
	assert.Equal(t, 2, delivered)

	require.Len(t, drain(allOutbox), 1)
	require.Len(t, drain(byKindOutbox), 1)
}

func TestBroadcastPreservesOrderPerObserver(t *testing.T) {
	observers := NewObservers(metrics.NewNoopRecorder())
	id, outbox, _ := observers.Add()
	observers.SetSubscription(id, []StreamKind{StreamAll}, nil)

	for _, msgID := range []string{"m-1", "m-2", "m-3"} {
		observers.Broadcast(heartbeatEnvelope(msgID))
	}

	frames := drain(outbox)
	require.Len(t, frames, 3)
	for i, want := range []string{"m-1", "m-2", "m-3"} {
		var env Envelope
		require.NoError(t, json.Unmarshal(frames[i], &env))
		assert.Equal(t, want, env.MsgID)
	}
}

func TestBroadcastDropsOnFullOutbox(t *testing.T) {
	recorder := metrics.NewPrometheusRecorder()
	observers := NewObservers(recorder)
	id, outbox, _ := observers.Add()
	observers.SetSubscription(id, []StreamKind{StreamAll}, nil)

	// nobody drains the outbox; fill it past its buffer
	for i := 0; i < observerSendBuffer+10; i++ {
		observers.Broadcast(heartbeatEnvelope("m"))
	}

	assert.Len(t, drain(outbox), observerSendBuffer, "the queue is bounded")
	// dropped frames are recorded, and the slow observer stayed connected
	assert.Equal(t, 1, observers.Len())
}

func TestRemoveClosesDoneAndStopsDelivery(t *testing.T) {
	observers := NewObservers(metrics.NewNoopRecorder())
	id, _, done := observers.Add()
	observers.SetSubscription(id, []StreamKind{StreamAll}, nil)

	observers.Remove(id)

	select {
	case <-done:
	default:
		t.Fatal("done should be closed after Remove")
	}

	assert.Zero(t, observers.Broadcast(heartbeatEnvelope("m")))
	assert.Zero(t, observers.Len())
}

func TestSendToUnknownObserver(t *testing.T) {
	observers := NewObservers(metrics.NewNoopRecorder())
	assert.False(t, observers.Send(99, []byte("x")))
}

func TestSubscriptionReplacedAtomically(t *testing.T) {
	observers := NewObservers(metrics.NewNoopRecorder())
	id, outbox, _ := observers.Add()

	observers.SetSubscription(id, []StreamKind{StreamAll}, nil)
	observers.Broadcast(heartbeatEnvelope("m-1"))

	// replacing with by_kind+empty filter silences the observer
	observers.SetSubscription(id, []StreamKind{StreamByKind}, []string{})
	observers.Broadcast(heartbeatEnvelope("m-2"))

	frames := drain(outbox)
	require.Len(t, frames, 1)
	var env Envelope
	require.NoError(t, json.Unmarshal(frames[0], &env))
	assert.Equal(t, "m-1", env.MsgID)
}
