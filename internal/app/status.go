package app

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/qapish/labman/internal/adapter/proxy"
	"github.com/qapish/labman/internal/adapter/registry"
	"github.com/qapish/labman/internal/core/domain"
	"github.com/qapish/labman/internal/logger"
)

// StatusAggregator keeps a live NodeStatus from proxy lifecycle events and
// registry snapshots. Observers on the WS fabric read it via discover.
type StatusAggregator struct {
	registry  *registry.EndpointRegistry
	proxy     *proxy.Service
	logger    *slog.Logger
	startTime time.Time

	state         atomic.Value // domain.NodeState
	totalRequests atomic.Uint64
	totalErrors   atomic.Uint64
}

func NewStatusAggregator(reg *registry.EndpointRegistry, proxyService *proxy.Service, startTime time.Time, log *slog.Logger) *StatusAggregator {
	a := &StatusAggregator{
		registry:  reg,
		proxy:     proxyService,
		logger:    log.With(logger.ComponentKey, "status"),
		startTime: startTime,
	}
	a.state.Store(domain.NodeStateStarting)
	return a
}

// SetState transitions the node's coarse operational state.
func (a *StatusAggregator) SetState(state domain.NodeState) {
	a.state.Store(state)
}

// Run consumes proxy events until ctx is cancelled.
func (a *StatusAggregator) Run(ctx context.Context) {
	events, cleanup := a.proxy.Events().Subscribe(ctx)
	defer cleanup()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			a.totalRequests.Add(1)
			if event.Type != proxy.EventTypeSuccess {
				a.totalErrors.Add(1)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Snapshot assembles the current node status.
func (a *StatusAggregator) Snapshot() domain.NodeStatus {
	endpoints := a.registry.Snapshot()

	healthy := 0
	active := 0
	for i := range endpoints {
		if endpoints[i].Healthy {
			healthy++
		}
		active += endpoints[i].ActiveRequests
	}

	state, _ := a.state.Load().(domain.NodeState)
	if state == domain.NodeStateRunning && healthy < len(endpoints) {
		state = domain.NodeStateDegraded
	}

	return domain.NodeStatus{
		Timestamp:        time.Now().UTC(),
		State:            state,
		HealthyEndpoints: healthy,
		TotalEndpoints:   len(endpoints),
		ActiveRequests:   active,
		TotalRequests:    a.totalRequests.Load(),
		TotalErrors:      a.totalErrors.Load(),
		UptimeSeconds:    uint64(time.Since(a.startTime).Seconds()),
	}
}
