package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
)

// matchOrPut runs the join step atomically on one hash per order.
// KEYS[1] join hash; ARGV: own side, other side, record, event ms, window ms.
var matchOrPut = redis.NewScript(`
local other = redis.call('HGET', KEYS[1], ARGV[2])
local otherAt = redis.call('HGET', KEYS[1], ARGV[2] .. ':at')
if other and otherAt then
  if math.abs(tonumber(ARGV[4]) - tonumber(otherAt)) <= tonumber(ARGV[5]) then
    return other
  end
  redis.call('HDEL', KEYS[1], ARGV[2], ARGV[2] .. ':at')
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3], ARGV[1] .. ':at', ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return false
`)

// RedisJoinStore keeps join state in Redis so the reconciler can restart or
// scale out without losing unmatched outcomes. Keys expire after the window.
type RedisJoinStore struct {
	client redis.UniversalClient
	window time.Duration
	prefix string
}

func NewRedisJoinStore(client redis.UniversalClient, window time.Duration) *RedisJoinStore {
	return &RedisJoinStore{client: client, window: window, prefix: "saga:join:"}
}

func (s *RedisJoinStore) key(orderID string) string {
	return s.prefix + orderID
}

func (s *RedisJoinStore) Match(ctx context.Context, side Side, rec order.Record, at time.Time) (order.Record, bool, error) {
	body, err := order.Encode(rec)
	if err != nil {
		return order.Record{}, false, err
	}

	res, err := matchOrPut.Run(ctx, s.client, []string{s.key(rec.OrderID)},
		side.String(), side.Other().String(), body, at.UnixMilli(), s.window.Milliseconds(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return order.Record{}, false, nil
	}
	if err != nil {
		return order.Record{}, false, fmt.Errorf("redis join %s: %w", rec.OrderID, err)
	}

	other, err := order.Decode([]byte(res))
	if err != nil {
		return order.Record{}, false, fmt.Errorf("redis join %s: stored outcome: %w", rec.OrderID, err)
	}
	return other, true, nil
}

func (s *RedisJoinStore) Complete(ctx context.Context, orderID string) error {
	if err := s.client.Del(ctx, s.key(orderID)).Err(); err != nil {
		return fmt.Errorf("redis join complete %s: %w", orderID, err)
	}
	return nil
}

// Expire is a no-op: Redis drops join keys through PEXPIRE.
func (s *RedisJoinStore) Expire(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
