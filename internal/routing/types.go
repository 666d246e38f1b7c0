package routing

import "time"

// Kind classifies an envelope by which queue carries it.
type Kind string

const (
	// KindAgentMessage is a directed agent-to-agent message.
	KindAgentMessage Kind = "agent_message"

	// KindDeviceData is a device reading fanned out to topic subscribers.
	KindDeviceData Kind = "device_data"
)

// Envelope is the unit of routed traffic. Agent messages carry Source,
// Target, MessageType and Payload; device data carries SourceDeviceID,
// Topic and Data. Recipients for device data are resolved at drain time
// from Topic, so a device envelope has no target of its own.
type Envelope struct {
	ID             string         `json:"id"`
	Kind           Kind           `json:"kind"`
	SourceAgentID  string         `json:"source_agent_id,omitempty"`
	TargetAgentID  string         `json:"target_agent_id,omitempty"`
	SourceDeviceID string         `json:"source_device_id,omitempty"`
	Topic          string         `json:"topic,omitempty"`
	MessageType    string         `json:"message_type,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// DeliveryRecord is one envelope delivered to one recipient. It is what
// history queries return and what live listeners receive.
type DeliveryRecord struct {
	RecipientID string    `json:"recipient_id"`
	Envelope    Envelope  `json:"envelope"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Agent is a registered subscriber.
type Agent struct {
	ID           string         `json:"id"`
	AgentType    string         `json:"agent_type"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	RegisteredAt time.Time      `json:"registered_at"`
}

// Subscription pairs an agent with one topic pattern.
type Subscription struct {
	Pattern string `json:"pattern"`
	AgentID string `json:"agent_id"`
}

// Logger is the minimal logging surface the routing package needs.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
