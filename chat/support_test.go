package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"impact-hub-server/models"
)

// fakeStore is an in-memory Store for tests. Set unavailable to simulate a
// connectivity outage; failInsertsAfter fails inserts once n have succeeded.
type fakeStore struct {
	mu               sync.Mutex
	conversations    []models.Conversation
	participants     map[uint][]uint
	messages         []models.Message
	nextConvID       uint
	nextMsgID        uint
	unavailable      bool
	failInsertsAfter int
	inserted         int
	clock            time.Time

	// One-shot hooks fired after the query result is computed but before it
	// is returned, outside the store lock. They simulate writes landing while
	// a snapshot query is in flight.
	onList  func()
	onCount func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		participants:     map[uint][]uint{},
		failInsertsAfter: -1,
		clock:            time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *fakeStore) setUnavailable(v bool) {
	s.mu.Lock()
	s.unavailable = v
	s.mu.Unlock()
}

// seedMessage inserts a message directly, bypassing availability simulation.
func (s *fakeStore) seedMessage(conversationID, senderID, recipientID uint, content string, isRead bool) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsgID++
	s.clock = s.clock.Add(time.Second)
	msg := models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
		IsRead:         isRead,
	}
	msg.ID = s.nextMsgID
	msg.CreatedAt = s.clock
	s.messages = append(s.messages, msg)
	return msg
}

func (s *fakeStore) FindDirectConversation(ctx context.Context, userID, peerID uint) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, ErrStoreUnavailable
	}
	for _, conv := range s.conversations {
		members := s.participants[conv.ID]
		if containsBoth(members, userID, peerID) {
			c := conv
			return &c, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateDirectConversation(ctx context.Context, userID, peerID uint) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, ErrStoreUnavailable
	}
	s.nextConvID++
	s.clock = s.clock.Add(time.Second)
	conv := models.Conversation{}
	conv.ID = s.nextConvID
	conv.CreatedAt = s.clock
	s.conversations = append(s.conversations, conv)
	s.participants[conv.ID] = []uint{userID, peerID}
	return &conv, nil
}

func (s *fakeStore) ListMessages(ctx context.Context, conversationID uint) ([]models.Message, error) {
	s.mu.Lock()
	if s.unavailable {
		s.mu.Unlock()
		return nil, ErrStoreUnavailable
	}
	var out []models.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	hook := s.onList
	s.onList = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *fakeStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return ErrStoreUnavailable
	}
	if s.failInsertsAfter >= 0 && s.inserted >= s.failInsertsAfter {
		return ErrStoreUnavailable
	}
	if msg.DedupeKey != nil {
		for _, existing := range s.messages {
			if existing.DedupeKey != nil && *existing.DedupeKey == *msg.DedupeKey {
				return ErrDuplicate
			}
		}
	}
	s.nextMsgID++
	s.clock = s.clock.Add(time.Second)
	msg.ID = s.nextMsgID
	msg.CreatedAt = s.clock
	s.messages = append(s.messages, *msg)
	s.inserted++
	return nil
}

func (s *fakeStore) MarkMessagesRead(ctx context.Context, recipientID uint, messageIDs []uint) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, ErrStoreUnavailable
	}
	want := map[uint]struct{}{}
	for _, id := range messageIDs {
		want[id] = struct{}{}
	}
	var updated []models.Message
	for i := range s.messages {
		m := &s.messages[i]
		if _, ok := want[m.ID]; ok && m.RecipientID == recipientID && !m.IsRead {
			m.IsRead = true
			updated = append(updated, *m)
		}
	}
	return updated, nil
}

func (s *fakeStore) CountUnread(ctx context.Context, userID uint) (int64, error) {
	s.mu.Lock()
	if s.unavailable {
		s.mu.Unlock()
		return 0, ErrStoreUnavailable
	}
	var n int64
	for _, m := range s.messages {
		if m.RecipientID == userID && !m.IsRead {
			n++
		}
	}
	hook := s.onCount
	s.onCount = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return n, nil
}

func (s *fakeStore) messageByID(id uint) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

func (s *fakeStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func containsBoth(members []uint, a, b uint) bool {
	var hasA, hasB bool
	for _, m := range members {
		if m == a {
			hasA = true
		}
		if m == b {
			hasB = true
		}
	}
	return hasA && hasB
}

// fakeTransport delivers events synchronously to matching subscriptions.
// Unsubscribe detaches under the same lock delivery holds, so it shares the
// real transport's no-delivery-after-detach guarantee.
type fakeTransport struct {
	mu       sync.Mutex
	convSubs map[uint][]*fakeSub
	userSubs map[uint][]*fakeSub
	inserts  []models.Message
	updates  []Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		convSubs: map[uint][]*fakeSub{},
		userSubs: map[uint][]*fakeSub{},
	}
}

type fakeSub struct {
	tr     *fakeTransport
	fn     Handler
	closed bool
}

func (s *fakeSub) Unsubscribe() {
	s.tr.mu.Lock()
	s.closed = true
	s.tr.mu.Unlock()
}

func (t *fakeTransport) SubscribeConversation(ctx context.Context, conversationID uint, fn Handler) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub := &fakeSub{tr: t, fn: fn}
	t.convSubs[conversationID] = append(t.convSubs[conversationID], sub)
	return sub, nil
}

func (t *fakeTransport) SubscribeUser(ctx context.Context, userID uint, fn Handler) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub := &fakeSub{tr: t, fn: fn}
	t.userSubs[userID] = append(t.userSubs[userID], sub)
	return sub, nil
}

func (t *fakeTransport) PublishInsert(ctx context.Context, msg models.Message) error {
	t.deliver(Event{Kind: EventInsert, Message: msg})
	t.mu.Lock()
	t.inserts = append(t.inserts, msg)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) PublishUpdate(ctx context.Context, old, updated models.Message) error {
	o := old
	ev := Event{Kind: EventUpdate, Message: updated, Old: &o}
	t.deliver(ev)
	t.mu.Lock()
	t.updates = append(t.updates, ev)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) deliver(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sub := range t.convSubs[ev.Message.ConversationID] {
		if !sub.closed {
			sub.fn(ev)
		}
	}
	for _, sub := range t.userSubs[ev.Message.RecipientID] {
		if !sub.closed {
			sub.fn(ev)
		}
	}
}

func (t *fakeTransport) publishedInserts() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Message, len(t.inserts))
	copy(out, t.inserts)
	return out
}

func (t *fakeTransport) publishedUpdates() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.updates))
	copy(out, t.updates)
	return out
}

// fakeQueueStore is an in-memory QueueStore preserving append order.
type fakeQueueStore struct {
	mu      sync.Mutex
	nextID  uint
	actions []models.QueuedAction
}

func (q *fakeQueueStore) Append(ctx context.Context, action *models.QueuedAction) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	action.ID = q.nextID
	q.actions = append(q.actions, *action)
	return nil
}

func (q *fakeQueueStore) Pending(ctx context.Context) ([]models.QueuedAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedAction, len(q.actions))
	copy(out, q.actions)
	return out, nil
}

func (q *fakeQueueStore) Remove(ctx context.Context, id uint) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, a := range q.actions {
		if a.ID == id {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			return nil
		}
	}
	return errors.New("action not found")
}

func (q *fakeQueueStore) Count(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.actions)), nil
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
