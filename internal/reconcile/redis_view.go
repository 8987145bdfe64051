package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
)

const viewWatchRetries = 5

// RedisViewStore keeps one JSON entry per order plus a set indexing all
// order ids. Updates are optimistic: WATCH the entry, compare, MULTI/EXEC.
type RedisViewStore struct {
	client redis.UniversalClient
	prefix string
	index  string
}

// viewTag pins every view key and the index to one cluster slot, so the
// entry+index transaction and MGET in List work on Redis Cluster.
const viewTag = "{orders}"

func NewRedisViewStore(client redis.UniversalClient) *RedisViewStore {
	return &RedisViewStore{
		client: client,
		prefix: "saga:view:" + viewTag + ":",
		index:  "saga:view:" + viewTag + ":index",
	}
}

func (s *RedisViewStore) key(orderID string) string {
	return s.prefix + orderID
}

func (s *RedisViewStore) Apply(ctx context.Context, rec order.Record, at time.Time) (Entry, bool, error) {
	key := s.key(rec.OrderID)

	var (
		next    Entry
		applied bool
	)
	txf := func(tx *redis.Tx) error {
		cur, found, err := readEntry(ctx, tx, key)
		if err != nil {
			return err
		}
		next, applied = merge(cur, found, rec, at)
		if !applied {
			return nil
		}
		body, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal view entry: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, body, 0)
			p.SAdd(ctx, s.index, rec.OrderID)
			return nil
		})
		return err
	}

	for i := 0; i < viewWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Entry{}, false, fmt.Errorf("redis view %s: %w", rec.OrderID, err)
		}
		return next, applied, nil
	}
	return Entry{}, false, fmt.Errorf("redis view %s: too many concurrent updates", rec.OrderID)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readEntry(ctx context.Context, c stringGetter, key string) (Entry, bool, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode view entry %s: %w", key, err)
	}
	return e, true, nil
}

func (s *RedisViewStore) Get(ctx context.Context, orderID string) (Entry, bool, error) {
	e, ok, err := readEntry(ctx, s.client, s.key(orderID))
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis view get %s: %w", orderID, err)
	}
	return e, ok, nil
}

func (s *RedisViewStore) List(ctx context.Context) ([]Entry, error) {
	ids, err := s.client.SMembers(ctx, s.index).Result()
	if err != nil {
		return nil, fmt.Errorf("redis view index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis view list: %w", err)
	}

	out := make([]Entry, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode view entry %s: %w", keys[i], err)
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}
