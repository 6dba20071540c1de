// Package inmemorydb provides an implementation of the storer interfaces
// keeping all entries in memory. It is mostly useful for tests of plugins
// that take a store.StringStorer
package inmemorydb

import (
	"fmt"
	"sync"
)

// InMemoryDB implements store.StringStorer with a map guarded by a mutex
type InMemoryDB struct {
	mu      sync.Mutex
	entries map[string]string
}

// New returns a new empty InMemoryDB
func New() (imdb *InMemoryDB) {
	return &InMemoryDB{entries: make(map[string]string)}
}

// GetString retrieves a value associated to the key
func (imdb *InMemoryDB) GetString(key string) (value string, err error) {
	imdb.mu.Lock()
	defer imdb.mu.Unlock()

	value, ok := imdb.entries[key]
	if !ok {
		return "", fmt.Errorf("key [%s] not found", key)
	}

	return value, nil
}

// PutString adds or updates a value associated to the key
func (imdb *InMemoryDB) PutString(key string, value string) (err error) {
	imdb.mu.Lock()
	defer imdb.mu.Unlock()

	imdb.entries[key] = value
	return nil
}

// DeleteString removes the value associated to the key
func (imdb *InMemoryDB) DeleteString(key string) (err error) {
	imdb.mu.Lock()
	defer imdb.mu.Unlock()

	delete(imdb.entries, key)
	return nil
}

// Scan returns the complete set of key/values
func (imdb *InMemoryDB) Scan() (entries map[string]string, err error) {
	imdb.mu.Lock()
	defer imdb.mu.Unlock()

	entries = make(map[string]string, len(imdb.entries))
	for k, v := range imdb.entries {
		entries[k] = v
	}

	return entries, nil
}

// Close is a no-op for the in-memory implementation
func (imdb *InMemoryDB) Close() (err error) {
	return nil
}
