package storage

import (
	"context"
	"encoding/json"
	"log"
	"strconv"

	"impact-hub-server/chat"
	"impact-hub-server/models"

	"github.com/go-redis/redis/v8"
)

const (
	queueSeqKey     = "chat:queue:seq"
	queuePendingKey = "chat:queue:pending"
	queueItemsKey   = "chat:queue:items"
)

// ActionQueueStore implements chat.QueueStore on Redis. The queue is kept
// apart from the message store on purpose: a Postgres outage is exactly when
// actions get enqueued, so the queue must not share its fate. A sorted set
// ordered by a monotonically increasing sequence gives FIFO; the items hash
// holds the serialized actions. Both survive process restarts, which is what
// lets an interrupted drain resume where it left off.
type ActionQueueStore struct {
	rdb *redis.Client
}

func NewActionQueueStore(rdb *redis.Client) *ActionQueueStore {
	return &ActionQueueStore{rdb: rdb}
}

var _ chat.QueueStore = (*ActionQueueStore)(nil)

func (s *ActionQueueStore) Append(ctx context.Context, action *models.QueuedAction) error {
	seq, err := s.rdb.Incr(ctx, queueSeqKey).Result()
	if err != nil {
		return err
	}
	action.ID = uint(seq)

	payload, err := json.Marshal(action)
	if err != nil {
		return err
	}

	field := strconv.FormatInt(seq, 10)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, queueItemsKey, field, payload)
	pipe.ZAdd(ctx, queuePendingKey, &redis.Z{Score: float64(seq), Member: field})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *ActionQueueStore) Pending(ctx context.Context) ([]models.QueuedAction, error) {
	fields, err := s.rdb.ZRange(ctx, queuePendingKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	raw, err := s.rdb.HMGet(ctx, queueItemsKey, fields...).Result()
	if err != nil {
		return nil, err
	}

	actions, corrupt := decodePending(fields, raw)
	if len(corrupt) > 0 {
		// Purge entries that can never decode, or Count keeps reporting them
		// as pending forever.
		log.Printf("storage: dropping %d corrupt queued actions", len(corrupt))
		members := make([]interface{}, len(corrupt))
		for i, f := range corrupt {
			members[i] = f
		}
		pipe := s.rdb.TxPipeline()
		pipe.ZRem(ctx, queuePendingKey, members...)
		pipe.HDel(ctx, queueItemsKey, corrupt...)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}
	return actions, nil
}

// decodePending deserializes the fetched hash values, pairing each with its
// ZSET field. Fields whose value is missing or undecodable come back in
// corrupt for the caller to purge.
func decodePending(fields []string, raw []interface{}) (actions []models.QueuedAction, corrupt []string) {
	for i, item := range raw {
		str, ok := item.(string)
		if !ok {
			corrupt = append(corrupt, fields[i])
			continue
		}
		var action models.QueuedAction
		if err := json.Unmarshal([]byte(str), &action); err != nil {
			corrupt = append(corrupt, fields[i])
			continue
		}
		actions = append(actions, action)
	}
	return actions, corrupt
}

func (s *ActionQueueStore) Remove(ctx context.Context, id uint) error {
	field := strconv.FormatUint(uint64(id), 10)
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, queuePendingKey, field)
	pipe.HDel(ctx, queueItemsKey, field)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *ActionQueueStore) Count(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, queuePendingKey).Result()
}
