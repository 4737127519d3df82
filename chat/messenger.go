package chat

import (
	"context"
	"errors"
	"log"
	"strings"

	"impact-hub-server/models"
)

// Messenger is the single write path for messages: it persists the mutation,
// publishes the corresponding change event, and hairpins into the offline
// queue when the store is unreachable. Both the per-view actors and the HTTP
// handlers go through it, so queued replays and direct sends behave the same.
type Messenger struct {
	store     Store
	transport Transport
	queue     *OfflineActionQueue
}

func NewMessenger(store Store, transport Transport, queue *OfflineActionQueue) *Messenger {
	return &Messenger{store: store, transport: transport, queue: queue}
}

// Send validates and persists a new message. The local append on the sender
// side happens only via the echoed insert event, never optimistically, so a
// message is rendered exactly once regardless of echo timing.
//
// Returns queued=true when the store was unreachable and the send was parked
// in the offline queue instead; the caller surfaces that as a "pending"
// acknowledgment, not an error.
func (m *Messenger) Send(ctx context.Context, conversationID, senderID, recipientID uint, content string) (*models.Message, bool, error) {
	if senderID == 0 {
		return nil, false, ErrNoCurrentUser
	}
	if recipientID == 0 || recipientID == senderID {
		return nil, false, ErrSelfConversation
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false, ErrEmptyBody
	}

	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
	}
	if err := m.store.InsertMessage(ctx, msg); err != nil {
		if errors.Is(err, ErrStoreUnavailable) && m.queue != nil {
			if qErr := m.queue.EnqueueSend(ctx, conversationID, senderID, recipientID, content); qErr != nil {
				return nil, false, qErr
			}
			return nil, true, nil
		}
		return nil, false, err
	}

	if err := m.transport.PublishInsert(ctx, *msg); err != nil {
		// The row is durable; subscribers that missed the event recover with a
		// full reload on their next reconnect.
		log.Printf("chat: publish insert for message %d failed: %v", msg.ID, err)
	}
	return msg, false, nil
}

// MarkRead transitions the given messages to read on behalf of recipientID
// and publishes one update event per row actually changed. Already-read rows
// are skipped by the store, so duplicate calls converge without extra events.
// queued=true means the store was down and the batch awaits replay.
func (m *Messenger) MarkRead(ctx context.Context, recipientID, conversationID uint, messageIDs []uint) ([]models.Message, bool, error) {
	if recipientID == 0 {
		return nil, false, ErrNoCurrentUser
	}
	if len(messageIDs) == 0 {
		return nil, false, nil
	}

	updated, err := m.store.MarkMessagesRead(ctx, recipientID, messageIDs)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) && m.queue != nil {
			if qErr := m.queue.EnqueueMarkRead(ctx, conversationID, recipientID, messageIDs); qErr != nil {
				return nil, false, qErr
			}
			return nil, true, nil
		}
		return nil, false, err
	}

	for _, msg := range updated {
		old := msg
		old.IsRead = false
		if err := m.transport.PublishUpdate(ctx, old, msg); err != nil {
			log.Printf("chat: publish read update for message %d failed: %v", msg.ID, err)
		}
	}
	return updated, false, nil
}
