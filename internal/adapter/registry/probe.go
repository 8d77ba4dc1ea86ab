package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/qapish/labman/internal/core/domain"
	"github.com/qapish/labman/internal/util"
	"github.com/qapish/labman/internal/util/pattern"
)

const (
	DefaultProbeTimeout = 5 * time.Second

	healthyStatusRangeStart = 200
	healthyStatusRangeEnd   = 300

	// upstream model lists are small; cap reads defensively anyway
	maxModelListBytes = 8 << 20
)

type probeTarget struct {
	name          string
	baseURL       string
	modelsInclude []string
	modelsExclude []string
}

// HealthCheckAll probes every configured endpoint with a GET to its base
// URL. A 2xx marks the endpoint healthy and resets its failure counter; any
// other outcome marks it unhealthy. The pass always completes for every
// endpoint and returns the number currently healthy.
func (r *EndpointRegistry) HealthCheckAll(ctx context.Context) int {
	targets := r.probeTargets(nil)

	healthy := 0
	for _, target := range targets {
		ok := r.probeOne(ctx, target)

		r.mu.Lock()
		ep := r.endpoints[target.name]
		now := time.Now()
		if ok {
			ep.MarkHealthy(now)
			healthy++
		} else {
			ep.MarkUnhealthy(now)
		}
		r.mu.Unlock()
	}

	return healthy
}

func (r *EndpointRegistry) probeOne(ctx context.Context, target probeTarget) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.baseURL, nil)
	if err != nil {
		r.metrics.RecordError(target.name, string(domain.ErrKindHealthHTTPError))
		return false
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("endpoint unhealthy: request error", "endpoint", target.name, "error", err)
		r.metrics.RecordError(target.name, string(domain.ErrKindHealthHTTPError))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < healthyStatusRangeStart || resp.StatusCode >= healthyStatusRangeEnd {
		r.logger.Warn("endpoint unhealthy", "endpoint", target.name, "status", resp.StatusCode)
		r.metrics.RecordError(target.name, string(domain.ErrKindHealthHTTPStatus))
		return false
	}

	r.metrics.RecordRequestEnd(target.name, "", true, -1)
	return true
}

// DiscoverModels refreshes the model list of every healthy endpoint from its
// /models API, applies the endpoint's include/exclude filters, and rebuilds
// the model index. Unhealthy endpoints are skipped; their last-seen models
// stay in the index but remain unroutable until the next successful probe.
func (r *EndpointRegistry) DiscoverModels(ctx context.Context) {
	healthyOnly := func(ep *domain.Endpoint) bool { return ep.Healthy }
	targets := r.probeTargets(healthyOnly)

	for _, target := range targets {
		models, err := r.fetchModels(ctx, target)
		if err != nil {
			// previous discovered_models stay untouched
			r.logger.Warn("model discovery failed", "endpoint", target.name, "error", err)
			r.metrics.RecordError(target.name, string(domain.KindOf(err)))
			continue
		}

		filtered := filterModels(models, target.modelsInclude, target.modelsExclude)

		r.mu.Lock()
		if ep := r.endpoints[target.name]; ep != nil {
			ep.Models = filtered
		}
		r.mu.Unlock()

		r.logger.Debug("models discovered", "endpoint", target.name, "count", len(filtered))
	}

	r.RebuildIndex()
}

func (r *EndpointRegistry) fetchModels(ctx context.Context, target probeTarget) ([]domain.ModelDescriptor, error) {
	// base URLs already contain /v1, so this is <base>/models
	modelsURL := util.JoinURLPath(target.baseURL, "models")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, modelsURL, nil)
	if err != nil {
		return nil, domain.NewEndpointError(domain.ErrKindUpstreamRequest, target.name, "building models request", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, domain.NewEndpointError(domain.ErrKindUpstreamRequest, target.name, "fetching model list", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < healthyStatusRangeStart || resp.StatusCode >= healthyStatusRangeEnd {
		return nil, domain.NewEndpointError(domain.ErrKindDiscoveryParse, target.name,
			"unexpected model list status "+resp.Status, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxModelListBytes))
	if err != nil {
		return nil, domain.NewEndpointError(domain.ErrKindUpstreamBodyRead, target.name, "reading model list", err)
	}

	var list domain.ModelListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, domain.NewEndpointError(domain.ErrKindDiscoveryParse, target.name, "parsing model list", err)
	}

	return list.Data, nil
}

func filterModels(models []domain.ModelDescriptor, include, exclude []string) []domain.ModelDescriptor {
	filtered := make([]domain.ModelDescriptor, 0, len(models))
	for _, model := range models {
		if len(include) > 0 && !pattern.MatchesAny(model.ID, include) {
			continue
		}
		if pattern.MatchesAny(model.ID, exclude) {
			continue
		}
		filtered = append(filtered, model)
	}
	return filtered
}

// probeTargets snapshots the endpoint set under the lock so HTTP I/O happens
// without holding it.
func (r *EndpointRegistry) probeTargets(keep func(*domain.Endpoint) bool) []probeTarget {
	r.mu.Lock()
	defer r.mu.Unlock()

	targets := make([]probeTarget, 0, len(r.order))
	for _, name := range r.order {
		ep := r.endpoints[name]
		if keep != nil && !keep(ep) {
			continue
		}
		targets = append(targets, probeTarget{
			name:          name,
			baseURL:       ep.Config.BaseURL,
			modelsInclude: ep.Config.ModelsInclude,
			modelsExclude: ep.Config.ModelsExclude,
		})
	}
	return targets
}
