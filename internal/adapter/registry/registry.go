package registry

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"

	"github.com/qapish/labman/internal/config"
	"github.com/qapish/labman/internal/core/domain"
	"github.com/qapish/labman/internal/core/ports"
	"github.com/qapish/labman/internal/logger"
)

// EndpointRegistry is the in-memory source of truth for configured upstreams,
// their health, their discovered models, and the reverse model index.
//
// One coarse mutex guards the whole registry. Critical sections contain no
// I/O: the probe and discovery passes do their HTTP outside the lock and
// apply results under it. The control loop is the sole mutator of health and
// model state; the proxy only adjusts active-request counts.
type EndpointRegistry struct {
	mu sync.Mutex

	endpoints map[string]*domain.Endpoint
	order     []string

	// model id -> endpoint names, configuration order
	index map[string][]string

	// opaque model slug -> (endpoint, model), rebuilt with the index
	slugs map[string]slugTarget

	metrics ports.MetricsRecorder
	logger  *slog.Logger
	client  *http.Client
}

type slugTarget struct {
	endpoint string
	modelID  string
}

// Selection identifies the upstream chosen for a request. The caller owns
// one active-request slot until it calls Release.
type Selection struct {
	Endpoint string
	BaseURL  string
	ModelID  string
}

// New builds a registry from validated endpoint configuration. Duplicate
// names and non-http(s) base URLs are rejected.
func New(endpoints []config.EndpointConfig, metrics ports.MetricsRecorder, log *slog.Logger) (*EndpointRegistry, error) {
	r := &EndpointRegistry{
		endpoints: make(map[string]*domain.Endpoint, len(endpoints)),
		order:     make([]string, 0, len(endpoints)),
		index:     make(map[string][]string),
		slugs:     make(map[string]slugTarget),
		metrics:   metrics,
		logger:    log.With(logger.ComponentKey, "registry"),
		client:    &http.Client{Timeout: DefaultProbeTimeout},
	}

	for _, cfg := range endpoints {
		if _, dup := r.endpoints[cfg.Name]; dup {
			return nil, domain.NewConfigError("endpoints.name",
				fmt.Sprintf("duplicate endpoint name: %s", cfg.Name))
		}

		baseURL := strings.TrimSpace(cfg.BaseURL)
		if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
			return nil, domain.NewConfigError("endpoints.base_url",
				fmt.Sprintf("endpoint %q base_url must start with http:// or https://", cfg.Name))
		}

		r.endpoints[cfg.Name] = domain.NewEndpoint(domain.EndpointConfig{
			Name:          cfg.Name,
			BaseURL:       strings.TrimRight(baseURL, "/"),
			MaxConcurrent: cfg.MaxConcurrent,
			ModelsInclude: cfg.ModelsInclude,
			ModelsExclude: cfg.ModelsExclude,
		})
		r.order = append(r.order, cfg.Name)
	}

	return r, nil
}

// Len returns the number of configured endpoints.
func (r *EndpointRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// AcquireEndpointForModel selects the first endpoint in configuration order
// that advertises the model, is healthy, and has capacity. On success one
// active-request slot is taken and must be returned via Release. The model
// argument may also be an opaque slug previously published by this node.
func (r *EndpointRegistry) AcquireEndpointForModel(modelID string) (Selection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if names, ok := r.index[modelID]; ok {
		for _, name := range names {
			ep := r.endpoints[name]
			if ep == nil || !ep.Healthy || !ep.HasCapacity() {
				continue
			}
			ep.ActiveRequests++
			r.metrics.SetActiveRequests(r.totalActiveLocked())
			return Selection{Endpoint: name, BaseURL: ep.Config.BaseURL, ModelID: modelID}, true
		}
		return Selection{}, false
	}

	// not a known model id; try it as a slug
	if target, ok := r.slugs[modelID]; ok {
		ep := r.endpoints[target.endpoint]
		if ep != nil && ep.Healthy && ep.HasCapacity() {
			ep.ActiveRequests++
			r.metrics.SetActiveRequests(r.totalActiveLocked())
			return Selection{Endpoint: target.endpoint, BaseURL: ep.Config.BaseURL, ModelID: target.modelID}, true
		}
	}

	return Selection{}, false
}

// Release returns the active-request slot taken by a selection. It is safe
// to call exactly once per successful acquire, on every exit path.
func (r *EndpointRegistry) Release(endpointName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep := r.endpoints[endpointName]
	if ep == nil {
		return
	}
	if ep.ActiveRequests > 0 {
		ep.ActiveRequests--
	}
	r.metrics.SetActiveRequests(r.totalActiveLocked())
}

// ToNodeCapabilities produces the deduplicated union view of the node:
// every discovered model (first endpoint in configuration order wins), the
// endpoint count, and the saturating sum of concurrency caps (zero when all
// endpoints are unbounded).
func (r *EndpointRegistry) ToNodeCapabilities() domain.NodeCapabilities {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	var models []domain.ModelDescriptor

	for _, name := range r.order {
		for _, model := range r.endpoints[name].Models {
			if _, dup := seen[model.ID]; dup {
				continue
			}
			seen[model.ID] = struct{}{}
			models = append(models, model)
		}
	}

	caps := domain.NewNodeCapabilities(models, len(r.order))

	total := 0
	bounded := false
	for _, name := range r.order {
		mc := r.endpoints[name].Config.MaxConcurrent
		if mc <= 0 {
			continue
		}
		bounded = true
		if total > math.MaxInt-mc {
			total = math.MaxInt
		} else {
			total += mc
		}
	}
	if bounded {
		caps.MaxConcurrentRequests = total
	}

	return caps
}

// Snapshot returns copies of the runtime state of every endpoint, in
// configuration order. Used by the status aggregator and tests.
func (r *EndpointRegistry) Snapshot() []domain.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Endpoint, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.endpoints[name])
	}
	return out
}

// RebuildIndex clears and rebuilds the model index and slug table from every
// endpoint's current discovered models. Per-model endpoint lists preserve
// configuration order. The rebuild is atomic with respect to selection.
func (r *EndpointRegistry) RebuildIndex() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rebuildIndexLocked()
}

func (r *EndpointRegistry) rebuildIndexLocked() {
	index := make(map[string][]string)
	slugs := make(map[string]slugTarget)

	for _, name := range r.order {
		ep := r.endpoints[name]
		endpointSlug := domain.EndpointSlug(ep.Config.BaseURL)
		for _, model := range ep.Models {
			index[model.ID] = append(index[model.ID], name)
			slug := domain.EncodeModelSlug("", endpointSlug, model.ID)
			slugs[slug] = slugTarget{endpoint: name, modelID: model.ID}
		}
	}

	r.index = index
	r.slugs = slugs
}

// EndpointsForModel returns the index entry for a model id, in configuration
// order. Intended for tests and introspection.
func (r *EndpointRegistry) EndpointsForModel(modelID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.index[modelID]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

func (r *EndpointRegistry) totalActiveLocked() int64 {
	var total int64
	for _, ep := range r.endpoints {
		total += int64(ep.ActiveRequests)
	}
	return total
}
