package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gem-ai-tgbot-go/internal/config"
	"github.com/patrickmn/go-cache"
)

// memoryBackend implements the backend contract with go-cache.
// Used for development and tests; expiry handling mirrors Redis closely
// enough for the session code paths.
type memoryBackend struct {
	mu    sync.Mutex
	items *cache.Cache
}

func newMemoryBackend(cfg *config.MemoryConfig) *memoryBackend {
	expiration := cfg.DefaultExpiration
	if expiration == 0 {
		expiration = cache.NoExpiration
	}
	cleanup := cfg.CleanupInterval
	if cleanup == 0 {
		cleanup = 10 * time.Minute
	}
	return &memoryBackend{items: cache.New(expiration, cleanup)}
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return cache.NoExpiration
	}
	return ttl
}

func (m *memoryBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, found := m.items.Get(key)
	if !found {
		return "", false, nil
	}
	switch v := val.(type) {
	case string:
		return v, true, nil
	case int64:
		return fmt.Sprintf("%d", v), true, nil
	default:
		return "", false, fmt.Errorf("unexpected value type %T at key %s", val, key)
	}
}

func (m *memoryBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.items.Set(key, value, ttlOrDefault(ttl))
	return nil
}

func (m *memoryBackend) Delete(ctx context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

func (m *memoryBackend) AddToSet(ctx context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := map[string]struct{}{}
	if val, found := m.items.Get(key); found {
		existing, ok := val.(map[string]struct{})
		if !ok {
			return fmt.Errorf("key %s does not hold a set", key)
		}
		members = existing
	}
	members[member] = struct{}{}
	m.items.Set(key, members, cache.NoExpiration)
	return nil
}

func (m *memoryBackend) SetMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	val, found := m.items.Get(key)
	if !found {
		return nil, nil
	}
	members, ok := val.(map[string]struct{})
	if !ok {
		return nil, fmt.Errorf("key %s does not hold a set", key)
	}
	out := make([]string, 0, len(members))
	for member := range members {
		out = append(out, member)
	}
	return out, nil
}

func (m *memoryBackend) RemoveFromSet(ctx context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	val, found := m.items.Get(key)
	if !found {
		return nil
	}
	members, ok := val.(map[string]struct{})
	if !ok {
		return fmt.Errorf("key %s does not hold a set", key)
	}
	delete(members, member)
	if len(members) == 0 {
		m.items.Delete(key)
		return nil
	}
	m.items.Set(key, members, cache.NoExpiration)
	return nil
}

func (m *memoryBackend) IncrBy(ctx context.Context, key string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if val, found := m.items.Get(key); found {
		existing, ok := val.(int64)
		if !ok {
			return 0, fmt.Errorf("key %s does not hold a counter", key)
		}
		current = existing
	}
	current += amount

	// Preserve the remaining ttl when the counter already exists.
	ttl := time.Duration(cache.NoExpiration)
	if _, expiry, found := m.items.GetWithExpiration(key); found && !expiry.IsZero() {
		ttl = time.Until(expiry)
	}
	m.items.Set(key, current, ttl)
	return current, nil
}

func (m *memoryBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	val, found := m.items.Get(key)
	if !found {
		return nil
	}
	m.items.Set(key, val, ttlOrDefault(ttl))
	return nil
}

func (m *memoryBackend) Close() error {
	m.items.Flush()
	return nil
}
