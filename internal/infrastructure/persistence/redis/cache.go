// Package redis backs the advisory read cache with Redis. A value lives
// under "<namespace>:<group>:<key>" and every group keeps an index set at
// "<namespace>:<group>:_idx" listing its keys, so ClearGroup never scans
// the keyspace. Only Clear scans, and only for index keys.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultNamespace = "practicehub"

var (
	ErrCacheConnection    = errors.New("cache: connection failed")
	ErrCacheSerialization = errors.New("cache: serialization failed")
	ErrCacheInvalidTTL    = errors.New("cache: invalid TTL")
	ErrCacheKeyEmpty      = errors.New("cache: key cannot be empty")
	ErrCacheNilValue      = errors.New("cache: value cannot be nil")
)

// Options configures NewCache.
type Options struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	Namespace string

	// DialTimeout also bounds the initial ping. Defaults to 5s.
	DialTimeout time.Duration
}

// Cache implements gamification.StatsCache.
type Cache struct {
	rdb goredis.UniversalClient
	ns  string
}

// NewCache dials Redis and fails when the server does not answer a ping.
func NewCache(ctx context.Context, opts Options) (*Cache, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheConnection, opts.Addr, err)
	}
	return NewCacheWithClient(rdb, opts.Namespace), nil
}

// NewCacheWithClient wraps an existing client.
func NewCacheWithClient(rdb goredis.UniversalClient, namespace string) *Cache {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Cache{rdb: rdb, ns: namespace}
}

func (c *Cache) Close() error { return c.rdb.Close() }

// Key is the Redis key holding group/key.
func (c *Cache) Key(group, key string) string { return c.ns + ":" + group + ":" + key }

func (c *Cache) indexKey(group string) string { return c.ns + ":" + group + ":_idx" }

// Get decodes the JSON stored under group/key into dest.
func (c *Cache) Get(ctx context.Context, group, key string, dest any) (bool, error) {
	if group == "" || key == "" {
		return false, ErrCacheKeyEmpty
	}

	raw, err := c.rdb.Get(ctx, c.Key(group, key)).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return false, nil
	case err != nil:
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return true, nil
}

// Set writes value as JSON and records the key in the group index. A zero
// ttl keeps the value until it is deleted.
func (c *Cache) Set(ctx context.Context, group, key string, value any, ttl time.Duration) error {
	switch {
	case group == "" || key == "":
		return ErrCacheKeyEmpty
	case value == nil:
		return ErrCacheNilValue
	case ttl < 0:
		return ErrCacheInvalidTTL
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, c.Key(group, key), raw, ttl)
		p.SAdd(ctx, c.indexKey(group), key)
		return nil
	})
	return err
}

// Delete removes group/key.
func (c *Cache) Delete(ctx context.Context, group, key string) error {
	if group == "" || key == "" {
		return ErrCacheKeyEmpty
	}
	_, err := c.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, c.Key(group, key))
		p.SRem(ctx, c.indexKey(group), key)
		return nil
	})
	return err
}

// ClearGroup deletes every key listed in the group index and the index
// itself. Index members whose value already expired cost one no-op DEL.
func (c *Cache) ClearGroup(ctx context.Context, group string) error {
	if group == "" {
		return ErrCacheKeyEmpty
	}

	members, err := c.rdb.SMembers(ctx, c.indexKey(group)).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, c.Key(group, m))
	}
	keys = append(keys, c.indexKey(group))
	return c.rdb.Del(ctx, keys...).Err()
}

// Clear drops every group of the namespace by walking the group indexes.
func (c *Cache) Clear(ctx context.Context) error {
	suffix := ":_idx"
	iter := c.rdb.Scan(ctx, 0, c.ns+":*"+suffix, 100).Iterator()
	for iter.Next(ctx) {
		idx := iter.Val()
		group := strings.TrimSuffix(strings.TrimPrefix(idx, c.ns+":"), suffix)
		if err := c.ClearGroup(ctx, group); err != nil {
			return err
		}
	}
	return iter.Err()
}
