package models

import (
	"time"

	"gorm.io/datatypes"
)

// Kinds of actions that can be deferred while connectivity is down.
const (
	ActionSendMessage = "send_message"
	ActionMarkRead    = "mark_read"
)

// QueuedAction is one deferred mutation in the durable offline queue. The
// queue lives in Redis, not the message store: actions are enqueued exactly
// when that store is unreachable. ID is the queue's FIFO sequence number and
// entries are removed only after the store has confirmed the replay.
type QueuedAction struct {
	ID   uint   `json:"id"`
	Kind string `json:"kind"`

	ConversationID uint   `json:"conversationID"`
	SenderID       uint   `json:"senderID"`
	RecipientID    uint   `json:"recipientID"`
	Content        string `json:"content"`

	// MessageIDs holds the batch for mark_read actions.
	MessageIDs datatypes.JSON `json:"messageIDs"`

	// DedupeKey is stamped on the replayed message so an interrupted drain
	// cannot create the same message twice.
	DedupeKey string `json:"dedupeKey"`

	// CreatedAt is diagnostic only; ordering is by ID.
	CreatedAt time.Time `json:"createdAt"`
}
