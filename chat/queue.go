package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"impact-hub-server/models"
)

// OfflineActionQueue is the durable FIFO of mutations deferred because the
// store was unreachable. Actions are replayed strictly in enqueue order and
// removed only after the store confirms the replay, never optimistically,
// so an interruption mid-drain loses nothing. A replayed send carries the
// dedupe key stamped at enqueue time, which turns the "confirmed but not yet
// removed" window into a detectable no-op instead of a duplicate message.
type OfflineActionQueue struct {
	qs        QueueStore
	store     Store
	transport Transport

	mu       sync.Mutex
	draining bool
}

func NewOfflineActionQueue(qs QueueStore, store Store, transport Transport) *OfflineActionQueue {
	return &OfflineActionQueue{qs: qs, store: store, transport: transport}
}

// EnqueueSend parks a send-message action.
func (q *OfflineActionQueue) EnqueueSend(ctx context.Context, conversationID, senderID, recipientID uint, content string) error {
	return q.qs.Append(ctx, &models.QueuedAction{
		Kind:           models.ActionSendMessage,
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
		DedupeKey:      uuid.NewString(),
		CreatedAt:      time.Now(),
	})
}

// EnqueueMarkRead parks a mark-read batch.
func (q *OfflineActionQueue) EnqueueMarkRead(ctx context.Context, conversationID, recipientID uint, messageIDs []uint) error {
	ids, err := json.Marshal(messageIDs)
	if err != nil {
		return err
	}
	return q.qs.Append(ctx, &models.QueuedAction{
		Kind:           models.ActionMarkRead,
		ConversationID: conversationID,
		RecipientID:    recipientID,
		MessageIDs:     ids,
		DedupeKey:      uuid.NewString(),
		CreatedAt:      time.Now(),
	})
}

// PendingCount reports how many actions await replay (the UI's
// "pending/offline" indicator).
func (q *OfflineActionQueue) PendingCount(ctx context.Context) (int64, error) {
	return q.qs.Count(ctx)
}

// Drain replays pending actions in FIFO order. The first failure stops the
// cycle with the failed action still at the head; there is no retry loop
// within a single drain, the next connectivity event triggers the next
// attempt. Cancellation is honored between actions only, never mid-replay.
func (q *OfflineActionQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	pending, err := q.qs.Pending(ctx)
	if err != nil {
		return err
	}

	for _, action := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := q.replay(ctx, action); err != nil {
			return err
		}
		if err := q.qs.Remove(ctx, action.ID); err != nil {
			return err
		}
	}
	return nil
}

// Run drains on a fixed interval until ctx is cancelled. Transient failures
// are expected while offline and logged at most once per state change.
func (q *OfflineActionQueue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	wasFailing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.Drain(ctx); err != nil {
				if !wasFailing {
					log.Printf("chat: offline drain halted: %v", err)
				}
				wasFailing = true
				continue
			}
			wasFailing = false
		}
	}
}

func (q *OfflineActionQueue) replay(ctx context.Context, action models.QueuedAction) error {
	switch action.Kind {
	case models.ActionSendMessage:
		dedupe := action.DedupeKey
		msg := &models.Message{
			ConversationID: action.ConversationID,
			SenderID:       action.SenderID,
			RecipientID:    action.RecipientID,
			Content:        action.Content,
			DedupeKey:      &dedupe,
		}
		err := q.store.InsertMessage(ctx, msg)
		if errors.Is(err, ErrDuplicate) {
			// A previous drain inserted the row but was interrupted before
			// removing the action. Subscribers recover the event via reload.
			return nil
		}
		if err != nil {
			return err
		}
		if err := q.transport.PublishInsert(ctx, *msg); err != nil {
			log.Printf("chat: publish replayed message %d failed: %v", msg.ID, err)
		}
		return nil

	case models.ActionMarkRead:
		var ids []uint
		if err := json.Unmarshal(action.MessageIDs, &ids); err != nil {
			// Malformed payload can never replay; dropping it beats wedging
			// the queue head forever.
			log.Printf("chat: dropping mark_read action %d with bad payload: %v", action.ID, err)
			return nil
		}
		updated, err := q.store.MarkMessagesRead(ctx, action.RecipientID, ids)
		if err != nil {
			return err
		}
		for _, msg := range updated {
			old := msg
			old.IsRead = false
			if err := q.transport.PublishUpdate(ctx, old, msg); err != nil {
				log.Printf("chat: publish replayed read update %d failed: %v", msg.ID, err)
			}
		}
		return nil

	default:
		log.Printf("chat: dropping queued action %d with unknown kind %q", action.ID, action.Kind)
		return nil
	}
}
