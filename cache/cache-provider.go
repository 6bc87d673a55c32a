package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNotFound is returned by providers when a cache or entry does not exist.
var ErrNotFound = errors.New("cache entry not found")

// Provider is the persistence layer behind CacheStorage.
// It stores []byte values, which represent HTTP responses, in named caches.
// Names are provider-level names, already prefixed with the scope,
// so many scopes can share one provider.
//
// Implementations must be thread-safe!
// PutAll and Delete must be atomic: a reader sees all or none of their effect.
type Provider interface {
	// Create creates an empty cache if it does not exist yet.
	// The creation order of caches is remembered.
	Create(ctx context.Context, name string) error
	// PutAll stores all entries in the named cache, creating the cache if needed.
	// Entries with an existing key replace the stored value.
	PutAll(ctx context.Context, name string, entries []Entry) error
	// Get returns the value stored under key in the named cache, or ErrNotFound.
	Get(ctx context.Context, name, key string) ([]byte, error)
	// Keys returns the keys stored in the named cache, or ErrNotFound if
	// the cache does not exist.
	Keys(ctx context.Context, name string) ([]string, error)
	// Names returns the names of all caches starting with prefix, in creation order.
	Names(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the named cache and all of its entries.
	// It returns whether the cache existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Close releases the resources held by the provider.
	Close() error
}

// Entry is a single stored response.
type Entry struct {
	Key   string
	Bytes []byte
}

type memCache struct {
	entries map[string][]byte
	keys    []string
}

// MemoryProvider keeps caches in process memory.
type MemoryProvider struct {
	mutex  *sync.RWMutex
	caches map[string]*memCache
	order  *[]string
}

func NewMemoryProvider() MemoryProvider {
	return MemoryProvider{
		mutex:  &sync.RWMutex{},
		caches: make(map[string]*memCache),
		order:  &[]string{},
	}
}

func (m MemoryProvider) Create(ctx context.Context, name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.createLocked(name)
	return nil
}

func (m MemoryProvider) createLocked(name string) *memCache {
	c, ok := m.caches[name]
	if !ok {
		c = &memCache{entries: make(map[string][]byte)}
		m.caches[name] = c
		*m.order = append(*m.order, name)
	}
	return c
}

func (m MemoryProvider) PutAll(ctx context.Context, name string, entries []Entry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	c := m.createLocked(name)
	for _, e := range entries {
		if _, ok := c.entries[e.Key]; !ok {
			c.keys = append(c.keys, e.Key)
		}
		c.entries[e.Key] = e.Bytes
	}
	return nil
}

func (m MemoryProvider) Get(ctx context.Context, name, key string) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	c, ok := m.caches[name]
	if !ok {
		return nil, ErrNotFound
	}
	b, ok := c.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (m MemoryProvider) Keys(ctx context.Context, name string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	c, ok := m.caches[name]
	if !ok {
		return nil, ErrNotFound
	}
	keys := make([]string, len(c.keys))
	copy(keys, c.keys)
	return keys, nil
}

func (m MemoryProvider) Names(ctx context.Context, prefix string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(*m.order))
	for _, name := range *m.order {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (m MemoryProvider) Delete(ctx context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.caches[name]; !ok {
		return false, nil
	}
	delete(m.caches, name)
	order := (*m.order)[:0]
	for _, n := range *m.order {
		if n != name {
			order = append(order, n)
		}
	}
	*m.order = order
	return true, nil
}

func (m MemoryProvider) Close() error {
	return nil
}
