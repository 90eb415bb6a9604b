package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCacheWithClient(client, 10*time.Second)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "addr")
	assert.False(t, ok)

	cache.Set(ctx, "addr", &Balances{PublicKey: "addr", MainnetTokens: 12.5})
	got, ok := cache.Get(ctx, "addr")
	require.True(t, ok)
	assert.Equal(t, 12.5, got.MainnetTokens)
	assert.True(t, mr.Exists("nysa:balances:addr"))

	mr.FastForward(11 * time.Second)
	_, ok = cache.Get(ctx, "addr")
	assert.False(t, ok)

	cache.Set(ctx, "addr", &Balances{PublicKey: "addr"})
	cache.Invalidate(ctx, "addr")
	_, ok = cache.Get(ctx, "addr")
	assert.False(t, ok)

	require.NoError(t, cache.Ping(ctx))
}

func TestNewRedisCacheFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := NewRedisCache(context.Background(), "redis://"+mr.Addr()+"/0", time.Second)
	require.NoError(t, err)
	defer cache.Close()

	_, err = NewRedisCache(context.Background(), "not a url", time.Second)
	assert.Error(t, err)
}

func TestRedisCacheDegradesToMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Second)
	mr.Close()

	cache.Set(context.Background(), "addr", &Balances{})
	_, ok := cache.Get(context.Background(), "addr")
	assert.False(t, ok)
}
