package syncstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisProvider stores snapshots in redis.
type RedisProvider struct {
	Redis *redis.Client
}

// NewRedisProvider connects to the redis instance at url
// (redis://[user:pass@]host:port/db) and pings it.
func NewRedisProvider(ctx context.Context, url string) (*RedisProvider, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping %s", opts.Addr)
	}
	return &RedisProvider{Redis: rdb}, nil
}

func (p *RedisProvider) GetBytes(ctx context.Context, key string) ([]byte, error) {
	b, err := p.Redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (p *RedisProvider) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return p.Redis.Set(ctx, key, value, expiration).Err()
}

func (p *RedisProvider) Del(ctx context.Context, keys ...string) (int64, error) {
	return p.Redis.Del(ctx, keys...).Result()
}

// Scan walks the keyspace with SCAN until the cursor wraps.
func (p *RedisProvider) Scan(ctx context.Context, match string) ([]string, error) {
	out := []string{}
	var cursor uint64
	for {
		keys, next, err := p.Redis.Scan(ctx, cursor, match, 256).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (p *RedisProvider) Close() error {
	return p.Redis.Close()
}
