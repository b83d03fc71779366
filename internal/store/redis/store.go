// Package redis implements store.Store on top of go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/JakeFAU/crawl-pipeline/internal/store"
)

var (
	lpushCappedScript = goredis.NewScript(`
if redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('LPUSH', KEYS[1], ARGV[2])
return 1
`)

	hsetIfRoomScript = goredis.NewScript(`
if redis.call('HLEN', KEYS[1]) >= tonumber(ARGV[1]) then
  return 2
end
if redis.call('HEXISTS', KEYS[1], ARGV[2]) == 1 then
  return 1
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
return 0
`)
)

// Config captures connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store wraps a go-redis client. Batches run as MULTI/EXEC transactions.
type Store struct {
	client goredis.UniversalClient
}

var _ store.Store = (*Store)(nil)

// New dials Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client goredis.UniversalClient) *Store {
	return &Store{client: client}
}

// LPush prepends values to a list.
func (s *Store) LPush(ctx context.Context, key string, values ...string) error {
	if err := s.client.LPush(ctx, key, toArgs(values)...).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

// RPop pops the list tail; a missing element is not an error.
func (s *Store) RPop(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.RPop(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("rpop %s: %w", key, err)
	}
	return v, true, nil
}

// LLen returns the list length.
func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", key, err)
	}
	return n, nil
}

// LRange returns a slice of the list.
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return vals, nil
}

// LTrim trims the list to the given range.
func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := s.client.LTrim(ctx, key, start, stop).Err(); err != nil {
		return fmt.Errorf("ltrim %s: %w", key, err)
	}
	return nil
}

// HSet sets one hash field.
func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// HExists reports whether a hash field exists.
func (s *Store) HExists(ctx context.Context, key, field string) (bool, error) {
	ok, err := s.client.HExists(ctx, key, field).Result()
	if err != nil {
		return false, fmt.Errorf("hexists %s: %w", key, err)
	}
	return ok, nil
}

// HLen returns the hash size.
func (s *Store) HLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.HLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("hlen %s: %w", key, err)
	}
	return n, nil
}

// HGetAll returns every field of the hash.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return m, nil
}

// HDel removes hash fields.
func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if err := s.client.HDel(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", key, err)
	}
	return nil
}

// LPushCapped runs the length check and LPUSH as one Lua script.
func (s *Store) LPushCapped(ctx context.Context, key string, capacity int64, value string) (bool, error) {
	pushed, err := lpushCappedScript.Run(ctx, s.client, []string{key}, capacity, value).Int64()
	if err != nil {
		return false, fmt.Errorf("lpush capped %s: %w", key, err)
	}
	return pushed == 1, nil
}

// HSetIfRoom runs the size check, existence check, and HSET as one Lua script.
func (s *Store) HSetIfRoom(ctx context.Context, key string, capacity int64, field, value string) (store.CapResult, error) {
	res, err := hsetIfRoomScript.Run(ctx, s.client, []string{key}, capacity, field, value).Int64()
	if err != nil {
		return 0, fmt.Errorf("hset if room %s: %w", key, err)
	}
	return store.CapResult(res), nil
}

// HIncrBy increments an integer hash field.
func (s *Store) HIncrBy(ctx context.Context, key, field string, n int64) (int64, error) {
	v, err := s.client.HIncrBy(ctx, key, field, n).Result()
	if err != nil {
		return 0, fmt.Errorf("hincrby %s: %w", key, err)
	}
	return v, nil
}

// IncrWindow runs INCR and EXPIRE in one transaction. Callers embed the window in the key,
// so refreshing the TTL on every hit never extends a window.
func (s *Store) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incr window %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the client connection pool.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

// NewBatch starts a transaction-backed batch.
func (s *Store) NewBatch() store.Batch {
	return &batch{client: s.client}
}

type batch struct {
	client goredis.UniversalClient
	ops    []func(context.Context, goredis.Pipeliner)
}

func (b *batch) LPush(key string, values ...string) {
	args := toArgs(values)
	b.ops = append(b.ops, func(ctx context.Context, p goredis.Pipeliner) {
		p.LPush(ctx, key, args...)
	})
}

func (b *batch) HSet(key, field, value string) {
	b.ops = append(b.ops, func(ctx context.Context, p goredis.Pipeliner) {
		p.HSet(ctx, key, field, value)
	})
}

func (b *batch) HDel(key string, fields ...string) {
	fs := append([]string(nil), fields...)
	b.ops = append(b.ops, func(ctx context.Context, p goredis.Pipeliner) {
		p.HDel(ctx, key, fs...)
	})
}

func (b *batch) HIncrBy(key, field string, n int64) {
	b.ops = append(b.ops, func(ctx context.Context, p goredis.Pipeliner) {
		p.HIncrBy(ctx, key, field, n)
	})
}

func (b *batch) Len() int { return len(b.ops) }

// Commit sends every queued command inside one MULTI/EXEC.
func (b *batch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	_, err := b.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		for _, op := range b.ops {
			op(ctx, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	b.ops = nil
	return nil
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
