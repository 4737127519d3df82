package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"impact-hub-server/chat"
	"impact-hub-server/models"

	"github.com/go-redis/redis/v8"
)

// RedisTransport implements chat.Transport over Redis pub/sub. Every change
// event is published twice: on the conversation channel (feeding the open
// view) and on the recipient's user channel (feeding the unread counter and
// the websocket gateway, which must see events for closed conversations too).
type RedisTransport struct {
	rdb *redis.Client
}

func NewRedisTransport(rdb *redis.Client) *RedisTransport {
	return &RedisTransport{rdb: rdb}
}

var _ chat.Transport = (*RedisTransport)(nil)

func conversationChannel(id uint) string { return fmt.Sprintf("chat:conv:%d", id) }
func userChannel(id uint) string         { return fmt.Sprintf("chat:user:%d", id) }

func (t *RedisTransport) PublishInsert(ctx context.Context, msg models.Message) error {
	return t.publish(ctx, chat.Event{Kind: chat.EventInsert, Message: msg}, msg)
}

func (t *RedisTransport) PublishUpdate(ctx context.Context, old, updated models.Message) error {
	return t.publish(ctx, chat.Event{Kind: chat.EventUpdate, Message: updated, Old: &old}, updated)
}

func (t *RedisTransport) publish(ctx context.Context, ev chat.Event, msg models.Message) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := t.rdb.Publish(ctx, conversationChannel(msg.ConversationID), payload).Err(); err != nil {
		return err
	}
	return t.rdb.Publish(ctx, userChannel(msg.RecipientID), payload).Err()
}

func (t *RedisTransport) SubscribeConversation(ctx context.Context, conversationID uint, fn chat.Handler) (chat.Subscription, error) {
	return t.subscribe(ctx, conversationChannel(conversationID), fn)
}

func (t *RedisTransport) SubscribeUser(ctx context.Context, userID uint, fn chat.Handler) (chat.Subscription, error) {
	return t.subscribe(ctx, userChannel(userID), fn)
}

func (t *RedisTransport) subscribe(ctx context.Context, channel string, fn chat.Handler) (chat.Subscription, error) {
	ps := t.rdb.Subscribe(ctx, channel)
	// Receive forces the SUBSCRIBE round-trip so a dead broker fails here,
	// not silently on the first missed event.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &redisSubscription{ps: ps, done: make(chan struct{})}
	sub.wg.Add(1)
	go sub.loop(channel, fn)
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// Unsubscribe detaches synchronously: it blocks until the pump goroutine has
// exited, so the handler is never invoked after it returns.
func (s *redisSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		_ = s.ps.Close()
		s.wg.Wait()
	})
}

func (s *redisSubscription) loop(channel string, fn chat.Handler) {
	defer s.wg.Done()
	ch := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var ev chat.Event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				log.Printf("realtime: dropping malformed event on %s: %v", channel, err)
				continue
			}
			select {
			case <-s.done:
				return
			default:
			}
			fn(ev)
		}
	}
}
