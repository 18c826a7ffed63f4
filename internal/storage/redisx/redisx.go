// Package redisx implements storage.Cache on top of Redis: key/value
// entries for the retrieval query cache, counters and sliding-window sets
// for rate limiting, set-if-absent locks, and pub/sub.
package redisx

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"ragcore/internal/ragerr"
	"ragcore/internal/storage"
)

// Store is a Redis-backed storage.Cache.
type Store struct {
	client redis.UniversalClient
}

// Open connects to Redis at dsn (a redis:// or rediss:// URL) and verifies
// connectivity with a Ping.
func Open(ctx context.Context, dsn string) (*Store, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.Configuration, "redis_parse_url", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, ragerr.Wrap(ragerr.CacheError, "redis_ping", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error { return s.client.Close() }

// Get returns the value stored under key, or ok=false if it is absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, ragerr.Wrap(ragerr.CacheError, "redis_get", err)
	}
	return val, true, nil
}

// Set stores value under key with an optional ttl (zero means no expiry).
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return ragerr.Wrap(ragerr.CacheError, "redis_set", err)
	}
	return nil
}

// Incr atomically increments the counter at key, establishing ttl only the
// first time the key is created -- a fixed-window counter. The API-key rate
// limiter uses SlidingWindowHit instead.
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, ragerr.Wrap(ragerr.CacheError, "redis_incr", err)
	}
	if n == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, ragerr.Wrap(ragerr.CacheError, "redis_incr_expire", err)
		}
	}
	return n, nil
}

// Delete removes key, ignoring the case where it does not exist.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return ragerr.Wrap(ragerr.CacheError, "redis_delete", err)
	}
	return nil
}

// SlidingWindowHit implements a true rolling window with a Redis sorted set:
// the score is the event's Unix-nanosecond timestamp, members older than
// now-window are trimmed before the new event is added, and the remaining
// cardinality is the count for the window ending now.
func (s *Store) SlidingWindowHit(ctx context.Context, key string, now time.Time, window time.Duration) (int64, time.Time, error) {
	member := strconv.FormatInt(now.UnixNano(), 10)
	cutoff := now.Add(-window).UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	card := pipe.ZCard(ctx, key)
	oldest := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, ragerr.Wrap(ragerr.CacheError, "redis_sliding_window", err)
	}

	count, err := card.Result()
	if err != nil {
		return 0, time.Time{}, ragerr.Wrap(ragerr.CacheError, "redis_sliding_window_card", err)
	}
	oldestAt := now
	if zs, err := oldest.Result(); err == nil && len(zs) > 0 {
		oldestAt = time.Unix(0, int64(zs[0].Score))
	}
	return count, oldestAt.Add(window), nil
}

// AcquireLock attempts to set key to holder with an NX (set-if-absent)
// guard, reporting whether this caller now holds the lock.
func (s *Store) AcquireLock(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, ragerr.Wrap(ragerr.CacheError, "redis_acquire_lock", err)
	}
	return ok, nil
}

// ReleaseLock deletes key only if it is still held by holder, using a Lua
// script so the check-then-delete is atomic.
func (s *Store) ReleaseLock(ctx context.Context, key, holder string) error {
	const script = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`
	if err := s.client.Eval(ctx, script, []string{key}, holder).Err(); err != nil && err != redis.Nil {
		return ragerr.Wrap(ragerr.CacheError, "redis_release_lock", err)
	}
	return nil
}

// Publish broadcasts payload on channel to any active Subscribe callers.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return ragerr.Wrap(ragerr.CacheError, "redis_publish", err)
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel and a cancel
// func that closes the underlying subscription and the returned channel.
func (s *Store) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := s.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, ragerr.Wrap(ragerr.CacheError, "redis_subscribe", err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			default:
				log.Warn().Str("channel", channel).Msg("redisx: subscriber slow, dropping message")
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

var _ storage.Cache = (*Store)(nil)
