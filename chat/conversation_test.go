package chat

import (
	"context"
	"testing"
)

func TestConversationGetOrCreateIsStable(t *testing.T) {
	store := newFakeStore()
	manager := NewConversationManager(store, StaticIdentity(1))

	first, err := manager.GetOrCreate(context.Background(), 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	again, err := manager.GetOrCreate(context.Background(), 2)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if first.ID != again.ID {
		t.Fatalf("same pair resolved to different conversations: %d, %d", first.ID, again.ID)
	}

	// The peer resolving the pair lands on the same conversation.
	peerSide := NewConversationManager(store, StaticIdentity(2))
	mirrored, err := peerSide.GetOrCreate(context.Background(), 1)
	if err != nil {
		t.Fatalf("mirrored lookup: %v", err)
	}
	if mirrored.ID != first.ID {
		t.Fatalf("pair order changed the conversation: %d vs %d", mirrored.ID, first.ID)
	}
}

func TestConversationEarliestDuplicateWins(t *testing.T) {
	store := newFakeStore()
	// Two racing clients each created a conversation for the same pair.
	a, _ := store.CreateDirectConversation(context.Background(), 1, 2)
	store.CreateDirectConversation(context.Background(), 1, 2)

	manager := NewConversationManager(store, StaticIdentity(1))
	conv, err := manager.GetOrCreate(context.Background(), 2)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if conv.ID != a.ID {
		t.Fatalf("expected earliest conversation %d, got %d", a.ID, conv.ID)
	}
}

func TestConversationValidation(t *testing.T) {
	store := newFakeStore()

	if _, err := NewConversationManager(store, StaticIdentity(0)).GetOrCreate(context.Background(), 2); err != ErrNoCurrentUser {
		t.Fatalf("expected ErrNoCurrentUser, got %v", err)
	}
	manager := NewConversationManager(store, StaticIdentity(1))
	if _, err := manager.GetOrCreate(context.Background(), 0); err != ErrInvalidPeer {
		t.Fatalf("expected ErrInvalidPeer, got %v", err)
	}
	if _, err := manager.GetOrCreate(context.Background(), 1); err != ErrSelfConversation {
		t.Fatalf("expected ErrSelfConversation, got %v", err)
	}
}

func TestConversationStoreOutageSurfaces(t *testing.T) {
	store := newFakeStore()
	store.setUnavailable(true)
	manager := NewConversationManager(store, StaticIdentity(1))
	if _, err := manager.GetOrCreate(context.Background(), 2); err != ErrStoreUnavailable {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
