package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qapish/labman/internal/config"
)

func TestControlLoopRunOncePopulatesIndex(t *testing.T) {
	up := newFakeUpstream(t, `{"object":"list","data":[{"id":"llama3"}]}`)
	reg := newTestRegistry(t, config.EndpointConfig{Name: "local", BaseURL: up.baseURL()})

	loop := NewControlLoop(reg, time.Hour, testLogger())
	loop.RunOnce(context.Background())

	assert.True(t, reg.Snapshot()[0].Healthy)
	assert.Equal(t, []string{"local"}, reg.EndpointsForModel("llama3"))
}

func TestControlLoopTicksUntilCancelled(t *testing.T) {
	up := newFakeUpstream(t, `{"object":"list","data":[{"id":"llama3"}]}`)
	reg := newTestRegistry(t, config.EndpointConfig{Name: "local", BaseURL: up.baseURL()})

	ctx, cancel := context.WithCancel(context.Background())
	loop := NewControlLoop(reg, 20*time.Millisecond, testLogger())

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(reg.EndpointsForModel("llama3")) == 1
	}, 2*time.Second, 10*time.Millisecond, "a tick populates the index")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("control loop did not exit on shutdown")
	}
}

func TestControlLoopDefaultInterval(t *testing.T) {
	reg := newTestRegistry(t)
	loop := NewControlLoop(reg, 0, testLogger())
	assert.Equal(t, DefaultControlLoopInterval, loop.interval)
}

func TestControlLoopRecoversAfterUpstreamFlap(t *testing.T) {
	up := newFakeUpstream(t, `{"object":"list","data":[{"id":"m"}]}`)
	reg := newTestRegistry(t, config.EndpointConfig{Name: "local", BaseURL: up.baseURL()})
	loop := NewControlLoop(reg, time.Hour, testLogger())

	loop.RunOnce(context.Background())
	require.True(t, reg.Snapshot()[0].Healthy)

	up.healthStatus.Store(503)
	loop.tick(context.Background())
	assert.False(t, reg.Snapshot()[0].Healthy)
	_, ok := reg.AcquireEndpointForModel("m")
	assert.False(t, ok, "unhealthy endpoint is not selected even with stale models indexed")

	up.healthStatus.Store(200)
	loop.tick(context.Background())
	assert.True(t, reg.Snapshot()[0].Healthy)
	sel, ok := reg.AcquireEndpointForModel("m")
	require.True(t, ok)
	reg.Release(sel.Endpoint)
}
