package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"impact-hub-server/chat"
)

// Hub tracks websocket sessions and their change-feed subscriptions: one
// aggregate user-scoped subscription per session (unread counts, inbox) plus
// one conversation subscription per conversation the client currently has
// open. Closing the socket or leaving a conversation detaches the matching
// subscription before anything else, so no event is delivered into a
// torn-down session.
type Hub struct {
	transport chat.Transport

	mu           sync.RWMutex
	sessions     map[string]*Connection
	userSessions map[uint]string
	userFeeds    map[string]chat.Subscription
	convFeeds    map[string]map[uint]chat.Subscription
}

func NewHub(transport chat.Transport) *Hub {
	return &Hub{
		transport:    transport,
		sessions:     make(map[string]*Connection),
		userSessions: make(map[uint]string),
		userFeeds:    make(map[string]chat.Subscription),
		convFeeds:    make(map[string]map[uint]chat.Subscription),
	}
}

// Attach registers a connection, opens its user-scoped feed and starts the
// write loop. A previous session of the same user is replaced and closed to
// enforce one active socket per user.
func (h *Hub) Attach(ctx context.Context, conn *Connection) error {
	sub, err := h.transport.SubscribeUser(ctx, conn.UserID, func(ev chat.Event) {
		h.forward(conn, ev)
	})
	if err != nil {
		return err
	}

	var previous *Connection
	h.mu.Lock()
	if existingID, ok := h.userSessions[conn.UserID]; ok {
		if existing := h.sessions[existingID]; existing != nil {
			previous = existing
			h.detachLocked(existingID)
		}
	}
	h.sessions[conn.ID] = conn
	h.userSessions[conn.UserID] = conn.ID
	h.userFeeds[conn.ID] = sub
	h.convFeeds[conn.ID] = make(map[uint]chat.Subscription)
	h.mu.Unlock()

	conn.Start()

	if previous != nil {
		previous.Close(4001, "session replaced")
	}
	return nil
}

// Detach removes the connection, unsubscribing all its feeds first.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	h.detachLocked(conn.ID)
	h.mu.Unlock()
}

// Join opens the conversation feed for this session. Joining a conversation
// twice is a no-op.
func (h *Hub) Join(ctx context.Context, conn *Connection, conversationID uint) error {
	h.mu.RLock()
	_, attached := h.sessions[conn.ID]
	_, joined := h.convFeeds[conn.ID][conversationID]
	h.mu.RUnlock()
	if !attached || joined {
		return nil
	}

	sub, err := h.transport.SubscribeConversation(ctx, conversationID, func(ev chat.Event) {
		h.forward(conn, ev)
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	feeds, ok := h.convFeeds[conn.ID]
	if !ok {
		// Session detached while we were subscribing.
		h.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	if _, dup := feeds[conversationID]; dup {
		h.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	feeds[conversationID] = sub
	h.mu.Unlock()
	return nil
}

// Leave closes the conversation feed for this session.
func (h *Hub) Leave(conn *Connection, conversationID uint) {
	h.mu.Lock()
	feeds := h.convFeeds[conn.ID]
	sub := feeds[conversationID]
	delete(feeds, conversationID)
	h.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// IsOnline reports whether the user has an attached session. Push
// notifications are suppressed for online users: the websocket frame is the
// delivery.
func (h *Hub) IsOnline(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.userSessions[userID]
	return ok
}

// Close terminates all sessions and their subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.sessions))
	subs := make([]chat.Subscription, 0, len(h.userFeeds))
	for id, conn := range h.sessions {
		conns = append(conns, conn)
		if sub := h.userFeeds[id]; sub != nil {
			subs = append(subs, sub)
		}
		for _, sub := range h.convFeeds[id] {
			subs = append(subs, sub)
		}
	}
	h.sessions = make(map[string]*Connection)
	h.userSessions = make(map[uint]string)
	h.userFeeds = make(map[string]chat.Subscription)
	h.convFeeds = make(map[string]map[uint]chat.Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	for _, conn := range conns {
		conn.Close(1001, "hub shutdown")
	}
}

func (h *Hub) forward(conn *Connection, ev chat.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("realtime: marshal event for user %d: %v", conn.UserID, err)
		return
	}
	_ = conn.Send(payload)
}

// detachLocked removes session state; the caller holds h.mu. Subscriptions
// are unsubscribed outside the map bookkeeping but before the connection is
// forgotten, which keeps the no-delivery-after-detach guarantee.
func (h *Hub) detachLocked(sessionID string) {
	conn, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(h.sessions, sessionID)
	if current, ok := h.userSessions[conn.UserID]; ok && current == sessionID {
		delete(h.userSessions, conn.UserID)
	}

	if sub := h.userFeeds[sessionID]; sub != nil {
		sub.Unsubscribe()
	}
	delete(h.userFeeds, sessionID)
	for _, sub := range h.convFeeds[sessionID] {
		sub.Unsubscribe()
	}
	delete(h.convFeeds, sessionID)
}
