package chat

import (
	"context"
	"sync/atomic"

	"impact-hub-server/models"
)

// ReadReceiptReconciler marks incoming messages read while the conversation
// view is open and focused. Marking is commutative and idempotent by
// construction: the store only touches rows still unread, so racing
// reconciles converge on read=true without error.
type ReadReceiptReconciler struct {
	messenger *Messenger
	identity  Identity
	active    atomic.Bool
}

func NewReadReceiptReconciler(messenger *Messenger, identity Identity) *ReadReceiptReconciler {
	return &ReadReceiptReconciler{messenger: messenger, identity: identity}
}

// SetActive flips whether the view is currently focused. While inactive no
// read-marking occurs: unread state must reflect only genuinely-viewed
// messages.
func (r *ReadReceiptReconciler) SetActive(v bool) { r.active.Store(v) }

func (r *ReadReceiptReconciler) Active() bool { return r.active.Load() }

// Reconcile collects the currently-unread messages addressed to the current
// user from msgs and transitions them to read in one batch. It returns the
// ids whose store rows were confirmed flipped; callers update their local
// projection only for those. A store outage parks the batch in the offline
// queue and returns no ids; the flags flip after a successful replay and
// reload instead.
func (r *ReadReceiptReconciler) Reconcile(ctx context.Context, conversationID uint, msgs []models.Message) ([]uint, error) {
	if !r.active.Load() {
		return nil, nil
	}
	userID := r.identity.CurrentUserID()
	if userID == 0 {
		return nil, nil
	}

	var ids []uint
	for _, m := range msgs {
		if m.RecipientID == userID && !m.IsRead {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	updated, _, err := r.messenger.MarkRead(ctx, userID, conversationID, ids)
	if err != nil {
		return nil, err
	}
	readIDs := make([]uint, 0, len(updated))
	for _, m := range updated {
		readIDs = append(readIDs, m.ID)
	}
	return readIDs, nil
}
