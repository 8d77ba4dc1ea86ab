package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointHealthTracking(t *testing.T) {
	ep := NewEndpoint(EndpointConfig{Name: "local", BaseURL: "http://127.0.0.1:11434/v1"})

	assert.False(t, ep.Healthy)
	assert.Zero(t, ep.ConsecutiveFailures)

	now := time.Now()
	ep.MarkHealthy(now)
	assert.True(t, ep.Healthy)
	assert.Equal(t, now, ep.LastSuccess)
	assert.Zero(t, ep.ConsecutiveFailures)

	ep.MarkUnhealthy(now.Add(time.Second))
	assert.False(t, ep.Healthy)
	assert.Equal(t, 1, ep.ConsecutiveFailures)
	assert.Equal(t, now, ep.LastSuccess, "last success is not advanced by failures")

	ep.MarkUnhealthy(now.Add(2 * time.Second))
	assert.Equal(t, 2, ep.ConsecutiveFailures)

	ep.MarkHealthy(now.Add(3 * time.Second))
	assert.Zero(t, ep.ConsecutiveFailures)
}

func TestEndpointHasModel(t *testing.T) {
	ep := NewEndpoint(EndpointConfig{Name: "local", BaseURL: "http://127.0.0.1:11434/v1"})
	ep.Models = []ModelDescriptor{{ID: "llama3.2:3b"}, {ID: "mixtral:8x7b"}}

	assert.True(t, ep.HasModel("llama3.2:3b"))
	assert.True(t, ep.HasModel("mixtral:8x7b"))
	assert.False(t, ep.HasModel("gpt-4"))
}

func TestEndpointCapacity(t *testing.T) {
	unbounded := NewEndpoint(EndpointConfig{Name: "a", BaseURL: "http://x/v1"})
	unbounded.ActiveRequests = 10_000
	assert.True(t, unbounded.HasCapacity())

	capped := NewEndpoint(EndpointConfig{Name: "b", BaseURL: "http://x/v1", MaxConcurrent: 2})
	assert.True(t, capped.HasCapacity())
	capped.ActiveRequests = 1
	assert.True(t, capped.HasCapacity())
	capped.ActiveRequests = 2
	assert.False(t, capped.HasCapacity())
}

func TestModelDescriptorRoundTripsUpstreamFields(t *testing.T) {
	upstream := []byte(`{"id":"llama3","created":1719000000,"owned_by":"library","details":{"family":"llama"}}`)

	var model ModelDescriptor
	require.NoError(t, json.Unmarshal(upstream, &model))
	assert.Equal(t, "llama3", model.ID)
	assert.Equal(t, int64(1719000000), model.Created)
	assert.Equal(t, "library", model.OwnedBy)

	out, err := json.Marshal(model)
	require.NoError(t, err)
	assert.JSONEq(t, string(upstream), string(out), "unknown upstream fields are preserved")
}

func TestModelListResponse(t *testing.T) {
	resp := NewModelListResponse(nil)
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"object":"list","data":[]}`, string(out))

	resp = NewModelListResponse([]ModelDescriptor{{ID: "m1"}, {ID: "m2"}})
	assert.Equal(t, "list", resp.Object)
	assert.Len(t, resp.Data, 2)
}
