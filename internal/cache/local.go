package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LocalProvider is an in-process, size-bounded cache. The ttl passed to Set is capped
// by the provider-wide ttl given at construction.
type LocalProvider struct {
	items *expirable.LRU[string, localEntry]
}

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewLocalProvider creates a cache holding at most size entries for at most ttl.
func NewLocalProvider(size int, ttl time.Duration) *LocalProvider {
	if size <= 0 {
		size = 256
	}
	return &LocalProvider{items: expirable.NewLRU[string, localEntry](size, nil, ttl)}
}

// Get returns a copy of the cached bytes or ErrCacheMiss.
func (p *LocalProvider) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := p.items.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		p.items.Remove(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores a copy of value.
func (p *LocalProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.items.Add(key, newLocalEntry(value, ttl))
	return nil
}

// Del removes key.
func (p *LocalProvider) Del(_ context.Context, key string) error {
	p.items.Remove(key)
	return nil
}

// Close purges the cache.
func (p *LocalProvider) Close() error {
	p.items.Purge()
	return nil
}

func newLocalEntry(value []byte, ttl time.Duration) localEntry {
	entry := localEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	return entry
}
