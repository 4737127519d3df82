package chat

import (
	"context"

	"impact-hub-server/models"
)

// EventKind discriminates row-level change events.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
)

// Event is one row-level change delivered by the transport. Message is the
// row after the change; Old is the row before an update when the publisher
// knows it (it may be nil on redeliveries or catch-up paths).
type Event struct {
	Kind    EventKind       `json:"event"`
	Message models.Message  `json:"message"`
	Old     *models.Message `json:"old,omitempty"`
}

// Handler receives transport events. Delivery is at-least-once and unordered
// across subscriptions; consumers dedupe by message id.
type Handler func(Event)

// Subscription is a live transport subscription. Unsubscribe must detach
// synchronously: once it returns, the handler is never invoked again.
// Calling it more than once is harmless.
type Subscription interface {
	Unsubscribe()
}

// Transport is the publish/subscribe channel carrying message change events.
// Conversation subscriptions receive events for one conversation; user
// subscriptions receive every event whose message is addressed to the user,
// independent of any open conversation view.
type Transport interface {
	SubscribeConversation(ctx context.Context, conversationID uint, fn Handler) (Subscription, error)
	SubscribeUser(ctx context.Context, userID uint, fn Handler) (Subscription, error)
	PublishInsert(ctx context.Context, msg models.Message) error
	PublishUpdate(ctx context.Context, old, updated models.Message) error
}
