package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adaptermetrics "github.com/qapish/labman/internal/adapter/metrics"
	"github.com/qapish/labman/internal/adapter/proxy"
	"github.com/qapish/labman/internal/adapter/registry"
	"github.com/qapish/labman/internal/config"
	"github.com/qapish/labman/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStatusFixture(t *testing.T) (*StatusAggregator, *proxy.Service, *registry.EndpointRegistry) {
	t.Helper()

	recorder := adaptermetrics.NewNoopRecorder()
	reg, err := registry.New([]config.EndpointConfig{
		{Name: "a", BaseURL: "http://10.0.0.1:8000/v1"},
		{Name: "b", BaseURL: "http://10.0.0.2:8000/v1"},
	}, recorder, testLogger())
	require.NoError(t, err)

	proxyService := proxy.NewService(reg, recorder, proxy.Configuration{}, testLogger())
	t.Cleanup(proxyService.Cleanup)

	aggregator := NewStatusAggregator(reg, proxyService, time.Now().Add(-90*time.Second), testLogger())
	return aggregator, proxyService, reg
}

func TestStatusSnapshotInitialState(t *testing.T) {
	aggregator, _, _ := newStatusFixture(t)

	status := aggregator.Snapshot()
	assert.Equal(t, domain.NodeStateStarting, status.State)
	assert.Equal(t, 2, status.TotalEndpoints)
	assert.Zero(t, status.HealthyEndpoints)
	assert.False(t, status.IsHealthy())
	assert.GreaterOrEqual(t, status.UptimeSeconds, uint64(90))
}

func TestStatusDegradedWhenSomeEndpointsUnhealthy(t *testing.T) {
	aggregator, _, _ := newStatusFixture(t)
	aggregator.SetState(domain.NodeStateRunning)

	// no endpoint is healthy yet, so running degrades
	status := aggregator.Snapshot()
	assert.Equal(t, domain.NodeStateDegraded, status.State)
}

func TestStatusCountsProxyEvents(t *testing.T) {
	aggregator, proxyService, _ := newStatusFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go aggregator.Run(ctx)

	// give the aggregator a moment to subscribe before publishing
	require.Eventually(t, func() bool {
		return proxyService.Events().Stats().Subscribers == 1
	}, time.Second, 5*time.Millisecond)

	proxyService.Events().Publish(proxy.Event{Type: proxy.EventTypeSuccess})
	proxyService.Events().Publish(proxy.Event{Type: proxy.EventTypeError})
	proxyService.Events().Publish(proxy.Event{Type: proxy.EventTypeClientDisconnect})

	require.Eventually(t, func() bool {
		return aggregator.Snapshot().TotalRequests == 3
	}, time.Second, 5*time.Millisecond)

	status := aggregator.Snapshot()
	assert.Equal(t, uint64(3), status.TotalRequests)
	assert.Equal(t, uint64(2), status.TotalErrors)
}

func TestStatusStoppingState(t *testing.T) {
	aggregator, _, _ := newStatusFixture(t)
	aggregator.SetState(domain.NodeStateStopping)
	assert.Equal(t, domain.NodeStateStopping, aggregator.Snapshot().State)
}
