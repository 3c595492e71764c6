package bus

import (
	"encoding/json"
	"time"
)

// Kind classifies bus messages by their role in agent communication.
type Kind string

const (
	// KindRequest is a directed message that expects a response.
	KindRequest Kind = "request"

	// KindResponse answers a request, carrying the request's correlation id.
	KindResponse Kind = "response"

	// KindEvent is a broadcast notification with no expected reply.
	KindEvent Kind = "event"

	// KindCoordination carries coordination task fan-out and results.
	KindCoordination Kind = "coordination"

	// KindAlert is a high-visibility notification.
	KindAlert Kind = "alert"
)

// Valid returns true if the kind is a known value.
func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindResponse, KindEvent, KindCoordination, KindAlert:
		return true
	default:
		return false
	}
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Priority bounds. Values outside the range are clamped at publish.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// Well-known topics used by the trackers.
const (
	// TopicCoordination carries coordination task fan-out to participants.
	TopicCoordination = "coordination"

	// TopicCoordinationCompleted carries aggregate coordination outcomes.
	TopicCoordinationCompleted = "coordination_completed"

	// TopicWorkflow carries workflow step triggers to target agents.
	TopicWorkflow = "workflow"

	// TopicWorkflowCompleted carries terminal workflow outcomes.
	TopicWorkflowCompleted = "workflow_completed"
)

// Well-known payload keys.
const (
	KeyEvent         = "event"
	KeyTaskID        = "task_id"
	KeyWorkflowID    = "workflow_id"
	KeyStep          = "step"
	KeyAction        = "action"
	KeyStatus        = "status"
	KeyCorrelationID = "correlation_id"
	KeyReplyTo       = "reply_to"
)

// Payload event tags the dispatcher routes on.
const (
	// EventCoordinationResult tags a Coordination message carrying a
	// participant's result; the dispatcher feeds it to the coordination
	// tracker after delivery.
	EventCoordinationResult = "coordination_result"

	// EventWorkflowStepCompleted tags an Event message carrying a workflow
	// step result; the dispatcher feeds it to the workflow tracker.
	EventWorkflowStepCompleted = "workflow_step_completed"
)

// Payload is an opaque JSON-shaped tree carried by a message.
type Payload map[string]any

// String returns the string value for a key, if present.
func (p Payload) String(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	s, ok := p[key].(string)
	return s, ok
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return clonePayloadMap(p)
}

func clonePayloadMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = clonePayloadValue(v)
	}
	return out
}

func clonePayloadValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clonePayloadMap(t)
	case Payload:
		return Payload(clonePayloadMap(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = clonePayloadValue(e)
		}
		return out
	default:
		// Scalars are immutable as far as the bus is concerned.
		return v
	}
}

// Message is the envelope for all bus traffic. It wraps an opaque payload
// with addressing, kind, and delivery metadata.
type Message struct {
	// ID uniquely identifies this message. Assigned by the bus at publish;
	// caller-supplied values are overwritten.
	ID string `json:"id"`

	// Timestamp is when the message was published. Zero means "now" at
	// publish time.
	Timestamp time.Time `json:"timestamp"`

	// FromAgent is the sender identity. Required.
	FromAgent string `json:"from_agent"`

	// ToAgent restricts delivery to a single subscriber when set.
	ToAgent string `json:"to_agent,omitempty"`

	// Topic is the subscription matching tag. Required; exact match only.
	Topic string `json:"topic"`

	// Kind classifies the message.
	Kind Kind `json:"kind"`

	// Payload is the opaque structured content.
	Payload Payload `json:"payload,omitempty"`

	// Priority governs per-subscriber delivery order (1..10, higher first).
	// Zero means DefaultPriority; out-of-range values are clamped.
	Priority int `json:"priority"`

	// RequiresAck indicates the sender may await a Response carrying the
	// payload's correlation_id.
	RequiresAck bool `json:"requires_ack,omitempty"`

	// TTLSeconds drops the message at dispatch time once
	// Timestamp+TTL has passed. Zero means no TTL.
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

// Validate checks that the envelope has its required fields.
func (m *Message) Validate() error {
	if m == nil {
		return ErrInvalidMessage
	}
	if m.FromAgent == "" {
		return ErrInvalidMessage
	}
	if m.Topic == "" {
		return ErrInvalidMessage
	}
	if !m.Kind.Valid() {
		return ErrInvalidMessage
	}
	if m.TTLSeconds < 0 {
		return ErrInvalidMessage
	}
	return nil
}

// Expired reports whether the message's TTL has elapsed as of now.
func (m *Message) Expired(now time.Time) bool {
	if m.TTLSeconds <= 0 || m.Timestamp.IsZero() {
		return false
	}
	return now.Sub(m.Timestamp) > time.Duration(m.TTLSeconds)*time.Second
}

// ClampPriority returns p forced into the valid priority range, with zero
// mapping to the default.
func ClampPriority(p int) int {
	if p == 0 {
		return DefaultPriority
	}
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// Clone returns a deep copy of the message. Each subscriber receives its
// own clone so consumers can mutate payloads freely.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Payload = m.Payload.Clone()
	return &clone
}

// CorrelationID returns the payload's correlation id, if set.
func (m *Message) CorrelationID() string {
	s, _ := m.Payload.String(KeyCorrelationID)
	return s
}

// EventTag returns the payload's event tag, if set.
func (m *Message) EventTag() string {
	s, _ := m.Payload.String(KeyEvent)
	return s
}

// Marshal serializes the message to JSON.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMessage deserializes a message from JSON. Unknown fields are
// ignored; missing required fields yield ErrInvalidMessage.
func UnmarshalMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// NewMessage creates a message with required fields and a default priority.
func NewMessage(from, topic string, kind Kind, payload Payload) *Message {
	return &Message{
		FromAgent: from,
		Topic:     topic,
		Kind:      kind,
		Payload:   payload,
		Priority:  DefaultPriority,
	}
}
