package domain

import (
	"encoding/json"
	"time"
)

// EndpointConfig is the static, validated description of a single
// OpenAI-compatible upstream. It is created once at startup from the loaded
// configuration and never mutated afterwards.
type EndpointConfig struct {
	Name          string
	BaseURL       string
	MaxConcurrent int // 0 means unbounded
	ModelsInclude []string
	ModelsExclude []string
}

// Unbounded reports whether this endpoint has no concurrency cap.
func (c *EndpointConfig) Unbounded() bool {
	return c.MaxConcurrent <= 0
}

// Endpoint is the runtime state tracked for a configured upstream. It is
// owned by the registry; the control loop mutates health and discovered
// models, the proxy adjusts ActiveRequests.
type Endpoint struct {
	LastChecked         time.Time
	LastSuccess         time.Time
	Config              EndpointConfig
	Models              []ModelDescriptor
	ActiveRequests      int
	ConsecutiveFailures int
	Healthy             bool
}

// NewEndpoint creates runtime state for a configured endpoint, initially
// unhealthy with no discovered models.
func NewEndpoint(cfg EndpointConfig) *Endpoint {
	return &Endpoint{Config: cfg}
}

// MarkHealthy records a successful probe.
func (e *Endpoint) MarkHealthy(now time.Time) {
	e.Healthy = true
	e.LastChecked = now
	e.LastSuccess = now
	e.ConsecutiveFailures = 0
}

// MarkUnhealthy records a failed probe.
func (e *Endpoint) MarkUnhealthy(now time.Time) {
	e.Healthy = false
	e.LastChecked = now
	e.ConsecutiveFailures++
}

// HasModel reports whether this endpoint currently advertises the model.
func (e *Endpoint) HasModel(modelID string) bool {
	for i := range e.Models {
		if e.Models[i].ID == modelID {
			return true
		}
	}
	return false
}

// HasCapacity reports whether the endpoint can accept another request under
// its concurrency cap.
func (e *Endpoint) HasCapacity() bool {
	return e.Config.Unbounded() || e.ActiveRequests < e.Config.MaxConcurrent
}

// ModelDescriptor is a model as advertised by an upstream's /v1/models API.
// The id is the routing key; everything else is carried opaquely so that the
// proxy's union view re-serialises whatever the upstream sent.
type ModelDescriptor struct {
	ID      string `json:"id"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`

	// Raw holds the original upstream JSON object, when the descriptor came
	// from a discovery pass. Empty for locally constructed descriptors.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full upstream object alongside the fields labman
// routes on.
func (m *ModelDescriptor) UnmarshalJSON(data []byte) error {
	type descriptor struct {
		ID      string `json:"id"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}
	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	m.ID = d.ID
	m.Created = d.Created
	m.OwnedBy = d.OwnedBy
	m.Raw = append(m.Raw[:0], data...)
	return nil
}

// MarshalJSON re-emits the upstream object verbatim when one was captured.
func (m ModelDescriptor) MarshalJSON() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	type descriptor struct {
		ID      string `json:"id"`
		Created int64  `json:"created,omitempty"`
		OwnedBy string `json:"owned_by,omitempty"`
	}
	return json.Marshal(descriptor{ID: m.ID, Created: m.Created, OwnedBy: m.OwnedBy})
}

// ModelListResponse is the OpenAI-style list wrapper returned by
// GET /v1/models, both upstream and on the proxy surface.
type ModelListResponse struct {
	Object string            `json:"object"`
	Data   []ModelDescriptor `json:"data"`
}

// NewModelListResponse wraps models in the list envelope. A nil slice is
// normalised to an empty one so the JSON always carries "data":[].
func NewModelListResponse(models []ModelDescriptor) ModelListResponse {
	if models == nil {
		models = []ModelDescriptor{}
	}
	return ModelListResponse{Object: "list", Data: models}
}
