package events

import "context"

// Event types
const (
	EventEscrowStatusChanged  = "escrow_status_changed"
	EventNotificationCreated  = "notification_created"
	EventReconciliationFilled = "reconciliation_filled"
)

// Streams
const (
	StreamEscrow       = "events:escrow"
	StreamNotification = "events:notification"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
