package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var ErrEmptyCacheKey = errors.New("cache: key cannot be empty")

type slot struct {
	group, key string
}

type cached struct {
	raw     []byte
	expires time.Time // zero means no expiry
}

func (c cached) live(now time.Time) bool {
	return c.expires.IsZero() || now.Before(c.expires)
}

// Cache is the in-process gamification.StatsCache. Values round-trip through
// JSON so a reader never aliases what a writer stored.
type Cache struct {
	mu      sync.Mutex
	entries map[slot]cached
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{entries: make(map[slot]cached), now: time.Now}
}

// WithClock swaps the time source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) Get(ctx context.Context, group, key string, dest any) (bool, error) {
	if group == "" || key == "" {
		return false, ErrEmptyCacheKey
	}

	c.mu.Lock()
	e, ok := c.entries[slot{group, key}]
	if ok && !e.live(c.now()) {
		delete(c.entries, slot{group, key})
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(e.raw, dest)
}

func (c *Cache) Set(ctx context.Context, group, key string, value any, ttl time.Duration) error {
	if group == "" || key == "" {
		return ErrEmptyCacheKey
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e := cached{raw: raw}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[slot{group, key}] = e
	return nil
}

func (c *Cache) Delete(ctx context.Context, group, key string) error {
	c.mu.Lock()
	delete(c.entries, slot{group, key})
	c.mu.Unlock()
	return nil
}

func (c *Cache) ClearGroup(ctx context.Context, group string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.entries {
		if s.group == group {
			delete(c.entries, s)
		}
	}
	return nil
}

func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
	return nil
}
