package domain

import (
	"context"
	"time"
)

// Topics carried by the triage pipeline.
const (
	// TopicAlertReceived carries queued alerts from intake to the workers.
	TopicAlertReceived = "alerts.received"

	// TopicInvestigationCompleted carries every finished investigation.
	TopicInvestigationCompleted = "investigations.completed"

	// TopicAlertFlagged carries only investigations that dispositioned
	// ALRT, for downstream case management.
	TopicAlertFlagged = "alerts.flagged"
)

// EventBus moves alerts and investigation outcomes between intake, the
// async workers, and downstream consumers. Delivery is tenant-scoped: a
// subscription sees its own tenant's messages, and a subscription under
// GlobalTenantID sees every tenant's.
type EventBus interface {
	// Publish emits payload on topic for one concrete tenant. Publishing
	// never blocks on slow consumers.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe invokes handler for each message on topic until the
	// returned subscription is cancelled.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler consumes one message. A returned error is logged, not
// redelivered; the pipeline is at-most-once.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope around one pipeline payload.
type Message struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenantId"`
	Topic    string    `json:"topic"`
	Payload  []byte    `json:"payload"`
	SentAt   time.Time `json:"sentAt"`
}

// Subscription is one active topic binding.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus backing.
type EventBusConfig struct {
	// Type selects the implementation: "channel" or "nats".
	Type string

	// Per-subscriber buffer for the in-process bus.
	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}
