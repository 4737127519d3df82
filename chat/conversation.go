package chat

import (
	"context"

	"impact-hub-server/models"
)

// ConversationManager resolves or creates the two-party conversation between
// the current user and a peer. No retry is attempted here: a transient store
// failure surfaces as ErrStoreUnavailable and the caller decides.
type ConversationManager struct {
	store    Store
	identity Identity
}

func NewConversationManager(store Store, identity Identity) *ConversationManager {
	return &ConversationManager{store: store, identity: identity}
}

// GetOrCreate returns the conversation shared with peerID, creating it (plus
// both participant rows, as one logical unit) when none exists. Lookups pick
// the earliest-created conversation, so a duplicate created by a racing
// client is tolerated: later calls deterministically converge on one.
func (m *ConversationManager) GetOrCreate(ctx context.Context, peerID uint) (*models.Conversation, error) {
	userID := m.identity.CurrentUserID()
	if userID == 0 {
		return nil, ErrNoCurrentUser
	}
	if peerID == 0 {
		return nil, ErrInvalidPeer
	}
	if peerID == userID {
		return nil, ErrSelfConversation
	}

	conv, err := m.store.FindDirectConversation(ctx, userID, peerID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}
	return m.store.CreateDirectConversation(ctx, userID, peerID)
}
