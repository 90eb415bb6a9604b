package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const balanceKeyPrefix = "nysa:balances:"

// BalanceCache stores recent balance lookups per wallet address.
type BalanceCache interface {
	Get(ctx context.Context, address string) (*Balances, bool)
	Set(ctx context.Context, address string, b *Balances)
	Invalidate(ctx context.Context, address string)
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*Balances, bool) { return nil, false }
func (NoopCache) Set(context.Context, string, *Balances)        {}
func (NoopCache) Invalidate(context.Context, string)            {}

// RedisCache is a BalanceCache backed by Redis. Redis failures degrade to
// cache misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to url and verifies the connection.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, address string) (*Balances, bool) {
	data, err := c.client.Get(ctx, balanceKeyPrefix+address).Bytes()
	if err != nil {
		return nil, false
	}
	var b Balances
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, false
	}
	return &b, true
}

func (c *RedisCache) Set(ctx context.Context, address string, b *Balances) {
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	c.client.Set(ctx, balanceKeyPrefix+address, data, c.ttl)
}

func (c *RedisCache) Invalidate(ctx context.Context, address string) {
	c.client.Del(ctx, balanceKeyPrefix+address)
}

// Ping reports whether Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	err := c.client.Ping(ctx).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
