package session

import (
	"context"
	"sync"
	"time"

	"arogyabot/internal/domain"
)

// TokenCache stores the active conversation token per identity with an
// idle expiry. Reads of expired entries report domain.ErrNotFound.
type TokenCache interface {
	Get(ctx context.Context, identity string) (string, error)
	Set(ctx context.Context, identity, token string, ttl time.Duration) error
	Delete(ctx context.Context, identity string) error
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryCache is the default in-process token cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, identity string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[identity]
	if !ok {
		return "", domain.ErrNotFound
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, identity)
		return "", domain.ErrNotFound
	}
	return entry.token, nil
}

func (c *MemoryCache) Set(_ context.Context, identity, token string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[identity] = memoryEntry{token: token, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, identity string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, identity)
	return nil
}
