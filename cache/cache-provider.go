package cache

import (
	"context"
	"sync"
)

// Provider is an interface for a durable key-value store.
// It stores and retrieves []byte values, which hold serialized post lists.
// Entries never expire; they are only replaced or purged.
//
// Implementations must be thread-safe!
type Provider interface {
	// Get returns the stored value for the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	// A missing key is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores the given value under the given key, replacing any previous value wholesale.
	Put(ctx context.Context, key string, bytes []byte) error
	// Purge removes the entry for the given key.
	// Purging a missing key is not an error.
	Purge(ctx context.Context, key string) error
	// Close releases the underlying storage.
	Close() error
}

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string][]byte
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string][]byte),
	}
}

func (m MemCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	bytes, ok := m.db[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), bytes...), true, nil
}

func (m MemCache) Put(ctx context.Context, key string, bytes []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.db[key] = append([]byte(nil), bytes...)
	return nil
}

func (m MemCache) Purge(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, key)
	return nil
}

func (m MemCache) Has(key string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[key]
	return ok
}

func (m MemCache) Close() error {
	return nil
}
