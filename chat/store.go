// Package chat implements the direct-messaging core: conversation resolution,
// ordered message delivery, read-receipt reconciliation, the per-user unread
// counter and the durable offline action queue.
//
// Every component receives its collaborators (store, transport, identity)
// explicitly; nothing reads ambient global state. The persistent store is the
// single source of truth. All in-memory state kept here is a projection that
// can be rebuilt with Load/Initialize after any suspected divergence.
package chat

import (
	"context"

	"impact-hub-server/models"
)

// Store is the narrow persistence contract the messaging core depends on.
// Implementations must return ErrStoreUnavailable (possibly wrapped) when the
// backing store cannot be reached, and ErrDuplicate when an insert collides
// with an existing dedupe key.
type Store interface {
	// FindDirectConversation returns the earliest-created conversation both
	// users participate in, or nil when none exists.
	FindDirectConversation(ctx context.Context, userID, peerID uint) (*models.Conversation, error)

	// CreateDirectConversation creates the conversation and both participant
	// rows as a single logical unit.
	CreateDirectConversation(ctx context.Context, userID, peerID uint) (*models.Conversation, error)

	// ListMessages returns all messages of a conversation ordered by creation
	// time ascending.
	ListMessages(ctx context.Context, conversationID uint) ([]models.Message, error)

	InsertMessage(ctx context.Context, msg *models.Message) error

	// MarkMessagesRead flips is_read on the given messages, restricted to rows
	// addressed to recipientID that are still unread, and returns the rows it
	// actually changed. Marking an already-read message is a silent no-op.
	MarkMessagesRead(ctx context.Context, recipientID uint, messageIDs []uint) ([]models.Message, error)

	// CountUnread counts messages addressed to userID with is_read = false.
	CountUnread(ctx context.Context, userID uint) (int64, error)
}

// QueueStore is the durable storage behind the offline action queue.
// Pending must return actions in enqueue (FIFO) order.
type QueueStore interface {
	Append(ctx context.Context, action *models.QueuedAction) error
	Pending(ctx context.Context) ([]models.QueuedAction, error)
	Remove(ctx context.Context, id uint) error
	Count(ctx context.Context) (int64, error)
}

// Identity supplies the current user synchronously. A zero user id means
// "no current user": components open no subscriptions and sends fail fast.
type Identity interface {
	CurrentUserID() uint
}

// StaticIdentity is the trivial Identity for a fixed, already-authenticated
// user (one messaging core instance per client session).
type StaticIdentity uint

func (s StaticIdentity) CurrentUserID() uint { return uint(s) }
