package chat

import (
	"context"
	"sync"
)

// UnreadCounter maintains the count of unread messages addressed to one user.
// It subscribes to the user-scoped change feed rather than a per-conversation
// one, because the count must move even for conversations whose view is closed.
// The counter is a projection: Initialize rebuilds it from the store at any
// time, which is also the recovery path after a reconnect.
type UnreadCounter struct {
	userID    uint
	store     Store
	transport Transport

	mu          sync.Mutex
	count       int64
	seenInserts map[uint]struct{}
	seenReads   map[uint]struct{}
	onChange    func(int64)

	events    chan Event
	done      chan struct{}
	sub       Subscription
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewUnreadCounter(userID uint, store Store, transport Transport) *UnreadCounter {
	return &UnreadCounter{
		userID:      userID,
		store:       store,
		transport:   transport,
		seenInserts: make(map[uint]struct{}),
		seenReads:   make(map[uint]struct{}),
		events:      make(chan Event, 64),
		done:        make(chan struct{}),
	}
}

// OnChange registers a callback invoked with the new value after every
// change. Must be called before Initialize.
func (u *UnreadCounter) OnChange(fn func(int64)) { u.onChange = fn }

// Initialize opens the user-scoped subscription and then performs the count
// query. Subscribing first closes the gap where a message lands after the
// count but before the subscription: such a message now arrives as a buffered
// event instead of vanishing until the next recount. The drain starts only
// once the base count is in place. Calling Initialize again recounts in place
// (idempotent recompute), e.g. after a dropped connection was re-established.
func (u *UnreadCounter) Initialize(ctx context.Context) error {
	if u.userID == 0 {
		return ErrNoCurrentUser
	}

	u.mu.Lock()
	fresh := u.sub == nil
	u.mu.Unlock()

	var sub Subscription
	if fresh {
		var err error
		sub, err = u.transport.SubscribeUser(ctx, u.userID, func(ev Event) {
			select {
			case u.events <- ev:
			case <-u.done:
			}
		})
		if err != nil {
			return err
		}
	}

	count, err := u.store.CountUnread(ctx, u.userID)
	if err != nil {
		if fresh {
			// Retry re-subscribes from scratch.
			sub.Unsubscribe()
		}
		return err
	}

	u.mu.Lock()
	u.count = count
	if fresh {
		u.sub = sub
	}
	fn := u.onChange
	u.mu.Unlock()
	if fn != nil {
		fn(count)
	}

	if fresh {
		u.wg.Add(1)
		go u.drain()
	}
	return nil
}

// Count returns the current value.
func (u *UnreadCounter) Count() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}

// Close detaches the subscription and stops the counter actor.
func (u *UnreadCounter) Close() {
	u.closeOnce.Do(func() {
		u.mu.Lock()
		sub := u.sub
		u.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		close(u.done)
		u.wg.Wait()
	})
}

func (u *UnreadCounter) drain() {
	defer u.wg.Done()
	for {
		select {
		case <-u.done:
			return
		case ev := <-u.events:
			u.apply(ev)
		}
	}
}

func (u *UnreadCounter) apply(ev Event) {
	m := ev.Message
	if m.RecipientID != u.userID {
		return
	}

	u.mu.Lock()
	before := u.count
	switch ev.Kind {
	case EventInsert:
		if _, read := u.seenReads[m.ID]; read {
			// Redelivered insert of a message whose read we already observed;
			// its insert dedupe entry was pruned below.
			break
		}
		if _, dup := u.seenInserts[m.ID]; !dup && !m.IsRead {
			u.seenInserts[m.ID] = struct{}{}
			u.count++
		}
	case EventUpdate:
		if !m.IsRead {
			break
		}
		if ev.Old != nil && ev.Old.IsRead {
			// No false->true transition; nothing to do.
			break
		}
		if _, dup := u.seenReads[m.ID]; dup {
			// Redelivered update must not double-decrement.
			break
		}
		u.seenReads[m.ID] = struct{}{}
		// The insert entry has done its job once the read lands; pruning it
		// keeps the dedupe state proportional to still-unread messages plus
		// observed reads instead of every insert ever delivered.
		delete(u.seenInserts, m.ID)
		if u.count > 0 {
			// Floor at zero: the counter is a projection and a recount fixes
			// any residual skew.
			u.count--
		}
	}
	changed := u.count != before
	count := u.count
	fn := u.onChange
	u.mu.Unlock()

	if changed && fn != nil {
		fn(count)
	}
}
