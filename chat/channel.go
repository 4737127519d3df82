package chat

import (
	"context"
	"log"
	"sort"
	"sync"

	"impact-hub-server/models"
)

// MessageDeliveryChannel owns the ordered message sequence of one open
// conversation view. A single drain goroutine is the only writer of the
// in-memory sequence; transport callbacks merely hand events to it, which
// keeps ordering and cancellation reasoning local to one place.
type MessageDeliveryChannel struct {
	conversationID uint
	peerID         uint

	messenger  *Messenger
	identity   Identity
	reconciler *ReadReceiptReconciler

	mu       sync.Mutex
	messages []models.Message
	seen     map[uint]struct{}

	events    chan Event
	done      chan struct{}
	sub       Subscription
	onMessage func(models.Message)
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    bool
}

// NewMessageDeliveryChannel builds the channel for one conversation view.
// reconciler may be nil when the view never marks messages read (e.g. a
// preview pane); identity decides who incoming messages are "for".
func NewMessageDeliveryChannel(conversationID, peerID uint, messenger *Messenger, identity Identity, reconciler *ReadReceiptReconciler) *MessageDeliveryChannel {
	return &MessageDeliveryChannel{
		conversationID: conversationID,
		peerID:         peerID,
		messenger:      messenger,
		identity:       identity,
		reconciler:     reconciler,
		seen:           make(map[uint]struct{}),
		events:         make(chan Event, 64),
		done:           make(chan struct{}),
	}
}

// Load fetches the full history and rebuilds the in-memory sequence from it,
// merging by id rather than blindly replacing: an insert delivered while the
// snapshot query was in flight is newer than the snapshot and its event will
// not come again, so it must survive the rebuild. Safe to call repeatedly; the
// recovery path after reconnect or suspected divergence. Messages the current
// user should have read are reconciled as part of the load when the view is
// active.
func (c *MessageDeliveryChannel) Load(ctx context.Context) error {
	msgs, err := c.messenger.store.ListMessages(ctx, c.conversationID)
	if err != nil {
		return err
	}

	seen := make(map[uint]struct{}, len(msgs))
	for _, m := range msgs {
		seen[m.ID] = struct{}{}
	}

	c.mu.Lock()
	var live []models.Message
	for _, m := range c.messages {
		if _, ok := seen[m.ID]; !ok {
			live = append(live, m)
			seen[m.ID] = struct{}{}
		}
	}
	c.messages = msgs
	c.seen = seen
	for _, m := range live {
		c.insertOrdered(m)
	}
	c.mu.Unlock()

	c.reconcile(ctx, msgs)
	return nil
}

// Subscribe opens the change-transport subscription for this conversation and
// starts the drain goroutine. onMessage is invoked once per newly observed
// message, in arrival order; history loaded via Load is not replayed into it.
func (c *MessageDeliveryChannel) Subscribe(ctx context.Context, onMessage func(models.Message)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.sub != nil {
		c.mu.Unlock()
		return nil
	}
	c.onMessage = onMessage
	c.mu.Unlock()

	sub, err := c.messenger.transport.SubscribeConversation(ctx, c.conversationID, func(ev Event) {
		select {
		case c.events <- ev:
		case <-c.done:
		}
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	c.wg.Add(1)
	go c.drain(ctx)
	return nil
}

// Send validates and persists a message addressed to the peer. The sent
// message is appended locally only when its insert event arrives (the echo is
// the sole source of the append), so it can never render twice.
func (c *MessageDeliveryChannel) Send(ctx context.Context, content string) (*models.Message, bool, error) {
	return c.messenger.Send(ctx, c.conversationID, c.identity.CurrentUserID(), c.peerID, content)
}

// Messages returns a copy of the current ordered sequence.
func (c *MessageDeliveryChannel) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Close detaches the subscription and stops the drain goroutine. It blocks
// until the goroutine has exited, so once Close returns no onMessage call can
// be in flight. Safe to call more than once.
func (c *MessageDeliveryChannel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		sub := c.sub
		c.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
		close(c.done)
		c.wg.Wait()
	})
}

func (c *MessageDeliveryChannel) drain(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		default:
		}
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *MessageDeliveryChannel) handleEvent(ctx context.Context, ev Event) {
	if ev.Message.ConversationID != c.conversationID {
		return
	}

	switch ev.Kind {
	case EventInsert:
		c.mu.Lock()
		if _, dup := c.seen[ev.Message.ID]; dup {
			// At-least-once delivery; drop the redelivery.
			c.mu.Unlock()
			return
		}
		c.seen[ev.Message.ID] = struct{}{}
		c.insertOrdered(ev.Message)
		onMessage := c.onMessage
		c.mu.Unlock()

		if onMessage != nil {
			onMessage(ev.Message)
		}
		c.reconcile(ctx, []models.Message{ev.Message})

	case EventUpdate:
		// Read-flag echo; the only mutable field.
		if ev.Message.IsRead {
			c.markReadLocal([]uint{ev.Message.ID})
		}
	}
}

// insertOrdered places the message at the position dictated by creation time.
// Transport delivery order is not guaranteed, so the slot is rarely but not
// always the tail. Caller holds c.mu.
func (c *MessageDeliveryChannel) insertOrdered(msg models.Message) {
	i := sort.Search(len(c.messages), func(i int) bool {
		if c.messages[i].CreatedAt.Equal(msg.CreatedAt) {
			return c.messages[i].ID > msg.ID
		}
		return c.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	c.messages = append(c.messages, models.Message{})
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = msg
}

func (c *MessageDeliveryChannel) reconcile(ctx context.Context, msgs []models.Message) {
	if c.reconciler == nil {
		return
	}
	readIDs, err := c.reconciler.Reconcile(ctx, c.conversationID, msgs)
	if err != nil {
		log.Printf("chat: read reconcile for conversation %d failed: %v", c.conversationID, err)
		return
	}
	c.markReadLocal(readIDs)
}

func (c *MessageDeliveryChannel) markReadLocal(ids []uint) {
	if len(ids) == 0 {
		return
	}
	want := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	c.mu.Lock()
	for i := range c.messages {
		if _, ok := want[c.messages[i].ID]; ok {
			c.messages[i].IsRead = true
		}
	}
	c.mu.Unlock()
}
