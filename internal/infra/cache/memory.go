package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"tg-content-pipeline/internal/domain"
)

// ErrNotFound возвращается при промахе кэша.
var ErrNotFound = errors.New("cache: key not found")

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache — TTL-кэш в памяти с внедряемыми часами.
// Используется в тестах и в однопроцессных запусках без Redis.
type MemoryCache struct {
	mu      sync.Mutex
	clock   domain.Clock
	entries map[string]memoryEntry
}

// NewMemory создаёт кэш.
func NewMemory(clock domain.Clock) *MemoryCache {
	if clock == nil {
		clock = domain.SystemClock()
	}
	return &MemoryCache{clock: clock, entries: make(map[string]memoryEntry)}
}

// Set задаёт значение с TTL.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expiresAt: c.clock.Now().Add(ttl)}
	return nil
}

// Get возвращает значение либо ErrNotFound, если ключа нет или TTL истёк.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if c.clock.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, ErrNotFound
	}
	return entry.value, nil
}
