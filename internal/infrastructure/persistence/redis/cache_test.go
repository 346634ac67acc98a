package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachable points at a closed port; only argument validation runs.
func unreachable(ns string) *Cache {
	return NewCacheWithClient(goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 10 * time.Millisecond,
		MaxRetries:  -1,
	}), ns)
}

func TestCache_Keys(t *testing.T) {
	c := unreachable("test")
	defer c.Close()

	assert.Equal(t, "test:user_stats:u-1", c.Key("user_stats", "u-1"))
	assert.Equal(t, "test:user_stats:_idx", c.indexKey("user_stats"))

	d := unreachable("")
	defer d.Close()
	assert.Equal(t, "practicehub:g:k", d.Key("g", "k"))
}

func TestCache_ArgumentErrors(t *testing.T) {
	c := unreachable("test")
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "", "k", &struct{}{})
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "g", "k", nil, time.Minute), ErrCacheNilValue)
	assert.ErrorIs(t, c.Set(ctx, "g", "k", 1, -time.Second), ErrCacheInvalidTTL)
	assert.ErrorIs(t, c.Set(ctx, "g", "k", make(chan int), time.Minute), ErrCacheSerialization)
	assert.ErrorIs(t, c.Delete(ctx, "g", ""), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.ClearGroup(ctx, ""), ErrCacheKeyEmpty)
}

func TestNewCache_FailsWithoutServer(t *testing.T) {
	_, err := NewCache(context.Background(), Options{Addr: "127.0.0.1:1", DialTimeout: 20 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheConnection)
}
