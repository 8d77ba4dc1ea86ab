package portman

import (
	"encoding/json"
	"fmt"

	"github.com/qapish/labman/internal/core/domain"
)

// Direction of a protocol envelope as seen on the wire: "up" is agent to
// control plane, "down" is control plane to agent.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

func (d *Direction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "up", "upstream":
		*d = DirectionUp
	case "down", "downstream":
		*d = DirectionDown
	default:
		return fmt.Errorf("invalid direction %q", s)
	}
	return nil
}

// MessageKind is the protocol message kind in canonical lower_snake form.
// Unrecognised kinds fold to KindUnknown rather than failing the parse.
type MessageKind string

const (
	// agent -> control plane
	KindRegisterAgent          MessageKind = "register_agent"
	KindHeartbeat              MessageKind = "heartbeat"
	KindMetrics                MessageKind = "metrics"
	KindOfferCapacity          MessageKind = "offer_capacity"
	KindDirectiveProgress      MessageKind = "directive_progress"
	KindUsageReport            MessageKind = "usage_report"
	KindResourceProfiles       MessageKind = "resource_profiles"
	KindAvailableModelCapacity MessageKind = "available_model_capacity"

	// control plane -> agent
	KindPreloadModel   MessageKind = "preload_model"
	KindEvictModel     MessageKind = "evict_model"
	KindAssignWorkload MessageKind = "assign_workload"
	KindUpdateRegistry MessageKind = "update_registry"
	KindDrain          MessageKind = "drain"
	KindRestartAgent   MessageKind = "restart_agent"

	// ack / error
	KindAck   MessageKind = "ack"
	KindError MessageKind = "error"

	KindUnknown MessageKind = "unknown"
)

var knownKinds = map[MessageKind]struct{}{
	KindRegisterAgent: {}, KindHeartbeat: {}, KindMetrics: {},
	KindOfferCapacity: {}, KindDirectiveProgress: {}, KindUsageReport: {},
	KindResourceProfiles: {}, KindAvailableModelCapacity: {},
	KindPreloadModel: {}, KindEvictModel: {}, KindAssignWorkload: {},
	KindUpdateRegistry: {}, KindDrain: {}, KindRestartAgent: {},
	KindAck: {}, KindError: {},
}

func (k *MessageKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	kind := MessageKind(s)
	if _, known := knownKinds[kind]; !known {
		kind = KindUnknown
	}
	*k = kind
	return nil
}

// String returns the canonical lower_snake name, which is also the value the
// by_kind observer filter matches against.
func (k MessageKind) String() string {
	return string(k)
}

// Envelope is the protocol frame exchanged on the agent socket. The payload
// is opaque: labman frames, parses, routes, and broadcasts envelopes without
// interpreting their application semantics.
type Envelope struct {
	MsgID     string          `json:"msg_id"`
	SiteID    string          `json:"site_id,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	Direction Direction       `json:"direction"`
	Kind      MessageKind     `json:"kind"`
	TS        string          `json:"ts,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ParseEnvelope decodes a text frame. Direction and kind must be present and
// parseable; unknown kind strings are tolerated and fold to KindUnknown.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, domain.WrapError(domain.ErrKindInvalidEnvelope, "failed to parse envelope", err)
	}
	if env.Direction == "" {
		return Envelope{}, domain.NewError(domain.ErrKindInvalidEnvelope, "envelope missing direction")
	}
	if env.Kind == "" {
		return Envelope{}, domain.NewError(domain.ErrKindInvalidEnvelope, "envelope missing kind")
	}
	return env, nil
}

// NewErrorEnvelope builds the synthetic downstream error frame sent back on
// malformed agent input.
func NewErrorEnvelope(code, message string) Envelope {
	payload, _ := json.Marshal(map[string]string{
		"code":    code,
		"message": message,
	})
	return Envelope{
		MsgID:     "local-error",
		Direction: DirectionDown,
		Kind:      KindError,
		Payload:   payload,
	}
}
