package domain

import "time"

// NodeCapabilities is the deduplicated union view of what this node can
// serve: every model across all endpoints (first occurrence wins), the
// endpoint count, and the saturating sum of concurrency caps.
type NodeCapabilities struct {
	Models                []ModelDescriptor `json:"models"`
	EndpointCount         int               `json:"endpoint_count"`
	MaxConcurrentRequests int               `json:"max_concurrent_requests,omitempty"`
	SupportsStreaming     bool              `json:"supports_streaming"`
	SupportsChat          bool              `json:"supports_chat"`
	SupportsCompletions   bool              `json:"supports_completions"`
}

// NewNodeCapabilities builds a capability view with the feature flags the
// proxy actually implements.
func NewNodeCapabilities(models []ModelDescriptor, endpointCount int) NodeCapabilities {
	if models == nil {
		models = []ModelDescriptor{}
	}
	return NodeCapabilities{
		Models:              models,
		EndpointCount:       endpointCount,
		SupportsStreaming:   true,
		SupportsChat:        true,
		SupportsCompletions: false,
	}
}

// ModelCount returns the number of unique models in the view.
func (c *NodeCapabilities) ModelCount() int {
	return len(c.Models)
}

// NodeState is the coarse operational state of the daemon.
type NodeState string

const (
	NodeStateStarting NodeState = "starting"
	NodeStateRunning  NodeState = "running"
	NodeStateDegraded NodeState = "degraded"
	NodeStateError    NodeState = "error"
	NodeStateStopping NodeState = "stopping"
)

func (s NodeState) String() string {
	return string(s)
}

// NodeStatus is a point-in-time snapshot of the node's operation, maintained
// by the status aggregator and served to observers on request.
type NodeStatus struct {
	Timestamp        time.Time `json:"timestamp"`
	State            NodeState `json:"state"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	HealthyEndpoints int       `json:"healthy_endpoints"`
	TotalEndpoints   int       `json:"total_endpoints"`
	ActiveRequests   int       `json:"active_requests"`
	TotalRequests    uint64    `json:"total_requests"`
	TotalErrors      uint64    `json:"total_errors"`
	UptimeSeconds    uint64    `json:"uptime_seconds"`
}

// IsHealthy reports whether the node is running with at least one healthy
// endpoint behind it.
func (s *NodeStatus) IsHealthy() bool {
	return s.State == NodeStateRunning && s.HealthyEndpoints > 0
}
