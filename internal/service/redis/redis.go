package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"secure_chat/internal/model"

	"github.com/redis/go-redis/v9"
)

var errStaleVersion = errors.New("version changed")

type (
	RedisService struct {
		rdb redis.UniversalClient
	}

	// HistoryCache keeps the most recent messages of each pair as a capped list.
	// Every stored message bumps the pair's version and drops its list; a
	// warm only lands if the version it was read under is still current, so a
	// cached list never lags the store.
	HistoryCache struct {
		svc      *RedisService
		capacity int
		ttl      time.Duration
	}
)

func NewRedis(rdb redis.UniversalClient) *RedisService {
	return &RedisService{
		rdb: rdb,
	}
}

func (r *RedisService) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Version reads a counter written by Bump. A missing key is version 0.
func (r *RedisService) Version(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Bump increments the counter at key and refreshes its ttl.
func (r *RedisService) Bump(ctx context.Context, key string, ttl time.Duration) error {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, key)
		p.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

// ReplaceIfVersion swaps the list at key for values, trimmed to the last max
// entries, provided versionKey still holds version. Applied reports whether
// the write happened.
func (r *RedisService) ReplaceIfVersion(ctx context.Context, versionKey string, version int64, key string, max int, ttl time.Duration, values ...any) (applied bool, err error) {
	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			if len(values) > 0 {
				p.RPush(ctx, key, values...)
				p.LTrim(ctx, key, int64(-max), -1)
				p.Expire(ctx, key, ttl)
			}
			return nil
		})
		return err
	}, versionKey)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errStaleVersion), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, err
	}
}

func (r *RedisService) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *RedisService) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.rdb.LRange(ctx, key, start, stop).Result()
}

func (r *RedisService) Del(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

func NewHistoryCache(svc *RedisService, capacity int, ttl time.Duration) *HistoryCache {
	return &HistoryCache{
		svc:      svc,
		capacity: capacity,
		ttl:      ttl,
	}
}

// Both keys of a pair share a hash tag so Warm's WATCH works on a cluster.
func historyKey(a, b string) string {
	return fmt.Sprintf("history:{%s}", model.PairKey(a, b))
}

func versionKey(a, b string) string {
	return historyKey(a, b) + ":version"
}

func (c *HistoryCache) Capacity() int {
	return c.capacity
}

// Version is read before loading the store so Warm can detect a concurrent write.
func (c *HistoryCache) Version(ctx context.Context, a, b string) (int64, error) {
	return c.svc.Version(ctx, versionKey(a, b))
}

// Invalidate runs after a message for the pair is stored. The version is
// bumped first so a warm racing the delete cannot land afterwards.
func (c *HistoryCache) Invalidate(ctx context.Context, a, b string) error {
	if err := c.svc.Bump(ctx, versionKey(a, b), 2*c.ttl); err != nil {
		return err
	}
	return c.svc.Del(ctx, historyKey(a, b))
}

// Get returns the newest limit cached messages in ascending order. ok is false
// when the pair has not been warmed.
func (c *HistoryCache) Get(ctx context.Context, a, b string, limit int) (msgs []*model.Message, ok bool, err error) {
	key := historyKey(a, b)
	exists, err := c.svc.Exists(ctx, key)
	if err != nil || !exists {
		return nil, false, err
	}

	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	vals, err := c.svc.LRange(ctx, key, start, -1)
	if err != nil {
		return nil, false, err
	}

	msgs = make([]*model.Message, 0, len(vals))
	for _, v := range vals {
		var m model.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, false, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, true, nil
}

// Warm replaces the pair's list with msgs, which must be ascending and read
// from the store after Version returned version. It is a no-op when a message
// was stored in between.
func (c *HistoryCache) Warm(ctx context.Context, a, b string, version int64, msgs []*model.Message) (bool, error) {
	if len(msgs) > c.capacity {
		msgs = msgs[len(msgs)-c.capacity:]
	}
	vals := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return false, err
		}
		vals = append(vals, data)
	}
	return c.svc.ReplaceIfVersion(ctx, versionKey(a, b), version, historyKey(a, b), c.capacity, c.ttl, vals...)
}
